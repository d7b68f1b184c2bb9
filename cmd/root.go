// Package cmd implements the pgl-booksync command line.
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/config"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
)

// app carries state shared by all subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	quiet      bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:           "pgl-booksync",
		Short:         "Mirror a Calibre library onto e-reader replicas",
		Long:          buildinfo.Name + " copies the books of a Calibre library to one or more destinations,\nnaming every file after its title and author and removing books that left the library.",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("%s version {{.Version}}\n", buildinfo.Name))

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Path to the config file (default: search for "+config.ConfigFileName+")")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "Only log warnings and errors.")
	flags.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	flags.String("log-file", "", "Also write logs to this file, rotated by size.")
	flags.StringP("source", "s", "", "Calibre library directory to sync from.")
	flags.StringSliceP("destination", "d", nil, "Destination directory; repeat or comma-separate for several.")
	a.bind(flags, map[string]string{
		"logLevel":     "log-level",
		"logFile":      "log-file",
		"source":       "source",
		"destinations": "destination",
	})

	root.AddCommand(
		newSyncCmd(a),
		newServeCmd(a),
		newInitCmd(a),
		newVersionCmd(),
	)
	return root
}

// bind maps config keys to flags. Unset flags fall through to the file,
// the environment and the defaults.
func (a *app) bind(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		// BindPFlag only fails for a nil flag.
		if err := a.v.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// loadConfig reads and validates the configuration and applies its logging
// settings. The returned closer releases the log file.
func (a *app) loadConfig(checkSource bool) (config.Config, io.Closer, error) {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	if err := cfg.Validate(checkSource); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := plog.LevelFromString(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	plog.SetLevel(level)
	plog.SetQuiet(a.quiet)

	closer, err := plog.SetLogFile(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.LogSummary()
	return cfg, closer, nil
}
