package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"table", OutputTable, false},
		{"JSON", OutputJSON, false},
		{" yaml ", OutputYAML, false},
		{"xml", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.ToLower(strings.TrimSpace(tt.in)), got.String())
		})
	}
}

func sampleResults(t *testing.T) pathsync.Results {
	t.Helper()
	var results pathsync.Results
	raw := `{
		"/mnt/kindle": {"added_files": ["epubs/A - B.epub"], "error_files": ["kfx/C - D.kfx"], "error_details": {"kfx/C - D.kfx": "permission denied"}},
		"/mnt/kobo": {"error": "destination is not writable"}
	}`
	require.NoError(t, json.Unmarshal([]byte(raw), &results))
	return results
}

func TestWriteResults(t *testing.T) {
	results := sampleResults(t)

	t.Run("Table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResults(&buf, results, OutputTable))
		out := buf.String()
		assert.Contains(t, out, "/mnt/kindle")
		assert.Contains(t, out, "FAILED: destination is not writable")
		assert.Contains(t, out, "ok (with errors)")
		assert.Contains(t, out, "kfx/C - D.kfx: permission denied")
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResults(&buf, results, OutputJSON))
		var back pathsync.Results
		require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
		assert.Equal(t, 1, back["/mnt/kindle"].Stats.Added())
		assert.True(t, back["/mnt/kobo"].Failed())
	})

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, WriteResults(&buf, results, OutputYAML))
		var back map[string]map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
		require.Contains(t, back, "/mnt/kindle")
		assert.Equal(t, "destination is not writable", back["/mnt/kobo"]["error"])
	})
}
