package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/config"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

func newInitCmd(a *app) *cobra.Command {
	var force bool

	c := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the current flags, environment and defaults",
		Long: "Writes the effective configuration to the file given by --config, or to " + config.ConfigFileName +
			" in the working directory. Existing settings in that file are kept unless overridden.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.configFile
			if path == "" {
				path = config.ConfigFileName
			}
			absPath, err := filepath.Abs(path)
			if err != nil {
				return fmt.Errorf("could not determine absolute config path for %s: %w", path, err)
			}

			exists := false
			if _, err := os.Stat(absPath); err == nil {
				exists = true
			}
			loadFrom := ""
			if exists {
				loadFrom = absPath
			}
			cfg, err := config.Load(a.v, loadFrom)
			if err != nil {
				plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
				cfg = config.NewDefault()
			}
			if cfg.Source == "" {
				return fmt.Errorf("the --source flag is required for init (unless updating an existing config)")
			}
			if err := cfg.Validate(true); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if exists && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "WARNING: Configuration file already exists at %s.\n", absPath)
				if !PromptForConfirmation(cmd.InOrStdin(), cmd.OutOrStdout(), "Overwrite it?", false) {
					plog.Info(buildinfo.Name + " init canceled.")
					return nil
				}
			}
			return config.Generate(cfg, absPath, true)
		},
	}
	c.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file without asking.")
	return c
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(in io.Reader, out io.Writer, prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Fprintf(out, "%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Fscanln(in, &response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
