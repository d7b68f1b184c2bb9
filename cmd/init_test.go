package cmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-booksync/cmd"
	"github.com/paulschiretz/pgl-booksync/pkg/config"
)

func TestPromptForConfirmation(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		prompt     string
		defaultYes bool
		want       bool
		wantPrompt string
	}{
		{"Explicit Yes", "y\n", "Continue?", false, true, "Continue? [y/N]: "},
		{"Explicit No", "n\n", "Continue?", true, false, "Continue? [Y/n]: "},
		{"Default Yes (Empty)", "\n", "Sure?", true, true, "Sure? [Y/n]: "},
		{"Default No (Empty)", "\n", "Sure?", false, false, "Sure? [y/N]: "},
		{"Case Insensitive", "YES\n", "Go?", false, true, "Go? [y/N]: "},
		{"Whitespace Handling", "   y   \n", "Clean?", false, true, "Clean? [y/N]: "},
		{"EOF Uses Default", "", "Eof?", true, true, "Eof? [Y/n]: "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := cmd.PromptForConfirmation(strings.NewReader(tt.input), &out, tt.prompt, tt.defaultYes)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), tt.wantPrompt)
		})
	}
}

func TestInitCommand(t *testing.T) {
	library := t.TempDir()
	replica := t.TempDir()
	path := filepath.Join(t.TempDir(), "booksync.yaml")

	t.Run("Writes Config", func(t *testing.T) {
		_, err := execute(t, "", "init", "--config", path, "--source", library, "--destination", replica)
		require.NoError(t, err)

		cfg, err := config.Load(config.NewViper(), path)
		require.NoError(t, err)
		assert.Equal(t, library, cfg.Source)
		assert.Equal(t, []string{replica}, cfg.Destinations)
	})

	t.Run("Declined Overwrite Keeps File", func(t *testing.T) {
		before, err := os.ReadFile(path)
		require.NoError(t, err)

		out, err := execute(t, "n\n", "init", "--config", path, "--log-level", "debug")
		require.NoError(t, err)
		assert.Contains(t, out, "already exists")

		after, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("Force Keeps Existing Settings", func(t *testing.T) {
		_, err := execute(t, "", "init", "--config", path, "--log-level", "debug", "--force")
		require.NoError(t, err)

		cfg, err := config.Load(config.NewViper(), path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, library, cfg.Source, "source comes from the existing file")
	})

	t.Run("Missing Source", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := execute(t, "", "init", "--config", filepath.Join(t.TempDir(), "x.yaml"))
		assert.ErrorContains(t, err, "--source")
	})
}
