// Package config loads and validates the booksync configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML or
// JSON config file, PGL_BOOKSYNC_* environment variables and command line
// flags bound by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/paulschiretz/pgl-booksync/pkg/buildinfo"
	"github.com/paulschiretz/pgl-booksync/pkg/hook"
	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
	"github.com/paulschiretz/pgl-booksync/pkg/plog"
	"github.com/paulschiretz/pgl-booksync/pkg/util"
)

// ConfigFileName is the name of the configuration file searched for when
// none is given explicitly.
const ConfigFileName = "pgl-booksync.config.yaml"

// EnvPrefix prefixes every environment variable, e.g. PGL_BOOKSYNC_SOURCE.
const EnvPrefix = "PGL_BOOKSYNC"

// legacyEnv maps config keys to the environment variable names older
// deployments used.
var legacyEnv = map[string]string{
	"source":       "CALIBRE_LIBRARY_PATH",
	"destinations": "REPLICA_PATHS",
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type SyncConfig struct {
	// ModTimeWindowSeconds is the modification time tolerance before file
	// contents are hashed. FAT32 and some network shares need at least 2.
	ModTimeWindowSeconds int `mapstructure:"modTimeWindowSeconds" yaml:"modTimeWindowSeconds"`
	RetryCount           int `mapstructure:"retryCount" yaml:"retryCount"`
	RetryWaitMillis      int `mapstructure:"retryWaitMillis" yaml:"retryWaitMillis"`
	ParallelDestinations int `mapstructure:"parallelDestinations" yaml:"parallelDestinations"`
	MinFreeSpaceMB       int `mapstructure:"minFreeSpaceMB" yaml:"minFreeSpaceMB"`
	BufferSizeKB         int `mapstructure:"bufferSizeKB" yaml:"bufferSizeKB"`
	LockWaitSeconds      int `mapstructure:"lockWaitSeconds" yaml:"lockWaitSeconds"`
	ProgressSeconds      int `mapstructure:"progressSeconds" yaml:"progressSeconds"`
}

type MetadataConfig struct {
	// Enabled reads titles and authors from the library database. When
	// disabled every file is named from its file name.
	Enabled         bool `mapstructure:"enabled" yaml:"enabled"`
	CacheSize       int  `mapstructure:"cacheSize" yaml:"cacheSize"`
	CacheTTLSeconds int  `mapstructure:"cacheTTLSeconds" yaml:"cacheTTLSeconds"`
}

type WatchConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	DebounceMillis int  `mapstructure:"debounceMillis" yaml:"debounceMillis"`
}

// HooksConfig lists shell commands run around every pass.
type HooksConfig struct {
	PreSync  []string `mapstructure:"preSync" yaml:"preSync"`
	PostSync []string `mapstructure:"postSync" yaml:"postSync"`
	FailFast bool     `mapstructure:"failFast" yaml:"failFast"`
}

type Config struct {
	Version      string   `mapstructure:"version" yaml:"version"`
	Source       string   `mapstructure:"source" yaml:"source"`
	Destinations []string `mapstructure:"destinations" yaml:"destinations"`
	LogLevel     string   `mapstructure:"logLevel" yaml:"logLevel"`
	LogFile      string   `mapstructure:"logFile" yaml:"logFile"`
	// LogMaxSizeMB and LogMaxBackups control rotation of LogFile.
	LogMaxSizeMB  int            `mapstructure:"logMaxSizeMB" yaml:"logMaxSizeMB"`
	LogMaxBackups int            `mapstructure:"logMaxBackups" yaml:"logMaxBackups"`
	StateDir      string         `mapstructure:"stateDir" yaml:"stateDir"`
	Server        ServerConfig   `mapstructure:"server" yaml:"server"`
	Sync          SyncConfig     `mapstructure:"sync" yaml:"sync"`
	Metadata      MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	Watch         WatchConfig    `mapstructure:"watch" yaml:"watch"`
	Hooks         HooksConfig    `mapstructure:"hooks" yaml:"hooks"`
}

// NewDefault creates and returns a Config struct with sensible default
// values. Source and destinations are left empty to force user
// configuration.
func NewDefault() Config {
	return Config{
		Version:       buildinfo.Version,
		Source:        "",
		Destinations:  []string{},
		LogLevel:      "info",
		LogFile:       "",
		LogMaxSizeMB:  10,
		LogMaxBackups: 5,
		StateDir:      defaultStateDir(),
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Sync: SyncConfig{
			ModTimeWindowSeconds: 1,
			RetryCount:           2,
			RetryWaitMillis:      500,
			ParallelDestinations: 1,
			MinFreeSpaceMB:       0,
			BufferSizeKB:         256,
			LockWaitSeconds:      0,
			ProgressSeconds:      0,
		},
		Metadata: MetadataConfig{
			Enabled:         true,
			CacheSize:       4096,
			CacheTTLSeconds: 300,
		},
		Watch: WatchConfig{
			Enabled:        false,
			DebounceMillis: 5000,
		},
		Hooks: HooksConfig{
			PreSync:  []string{},
			PostSync: []string{},
			FailFast: false,
		},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, buildinfo.AppID)
	}
	return "." + buildinfo.AppID
}

// setDefaults registers every key with viper. AutomaticEnv only resolves
// keys viper already knows about.
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("version", c.Version)
	v.SetDefault("source", c.Source)
	v.SetDefault("destinations", c.Destinations)
	v.SetDefault("logLevel", c.LogLevel)
	v.SetDefault("logFile", c.LogFile)
	v.SetDefault("logMaxSizeMB", c.LogMaxSizeMB)
	v.SetDefault("logMaxBackups", c.LogMaxBackups)
	v.SetDefault("stateDir", c.StateDir)
	v.SetDefault("server.addr", c.Server.Addr)
	v.SetDefault("sync.modTimeWindowSeconds", c.Sync.ModTimeWindowSeconds)
	v.SetDefault("sync.retryCount", c.Sync.RetryCount)
	v.SetDefault("sync.retryWaitMillis", c.Sync.RetryWaitMillis)
	v.SetDefault("sync.parallelDestinations", c.Sync.ParallelDestinations)
	v.SetDefault("sync.minFreeSpaceMB", c.Sync.MinFreeSpaceMB)
	v.SetDefault("sync.bufferSizeKB", c.Sync.BufferSizeKB)
	v.SetDefault("sync.lockWaitSeconds", c.Sync.LockWaitSeconds)
	v.SetDefault("sync.progressSeconds", c.Sync.ProgressSeconds)
	v.SetDefault("metadata.enabled", c.Metadata.Enabled)
	v.SetDefault("metadata.cacheSize", c.Metadata.CacheSize)
	v.SetDefault("metadata.cacheTTLSeconds", c.Metadata.CacheTTLSeconds)
	v.SetDefault("watch.enabled", c.Watch.Enabled)
	v.SetDefault("watch.debounceMillis", c.Watch.DebounceMillis)
	v.SetDefault("hooks.preSync", c.Hooks.PreSync)
	v.SetDefault("hooks.postSync", c.Hooks.PostSync)
	v.SetDefault("hooks.failFast", c.Hooks.FailFast)
}

// NewViper returns a viper instance reading PGL_BOOKSYNC_* variables.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v, NewDefault())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		// BindEnv only errors without a key.
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), env)
	}
	return v
}

// Load reads the configuration. If configFile is empty, ConfigFileName is
// looked up in the working directory and the user config directory, and a
// missing file is not an error. An explicitly named file must exist.
func Load(v *viper.Viper, configFile string) (Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(ConfigFileName, filepath.Ext(ConfigFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, buildinfo.AppID))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		plog.Info("Loading configuration", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error parsing configuration: %w", err)
	}
	cfg.Destinations = normalizeList(cfg.Destinations)
	if cfg.Hooks.PreSync == nil {
		cfg.Hooks.PreSync = []string{}
	}
	if cfg.Hooks.PostSync == nil {
		cfg.Hooks.PostSync = []string{}
	}
	cfg.Version = buildinfo.Version
	return cfg, nil
}

// normalizeList flattens comma-separated entries, so both a YAML list and
// a single "a,b" string work.
func normalizeList(in []string) []string {
	out := []string{}
	for _, s := range in {
		out = append(out, util.SplitList(s)...)
	}
	return out
}

// Generate writes c as YAML to path. An existing file is only replaced when
// overwrite is set.
func Generate(c Config, path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	plog.Info("Successfully saved config file", "path", path)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies
// and cleans all paths. With checkSource it also requires the source to
// exist.
func (c *Config) Validate(checkSource bool) error {
	if c.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if len(c.Destinations) == 0 {
		plog.Warn("No destinations configured, a sync pass will only index the library")
	}

	var err error
	c.Source, err = util.ExpandPath(c.Source)
	if err != nil {
		return fmt.Errorf("could not expand source path: %w", err)
	}
	c.Source = filepath.Clean(c.Source)
	if checkSource {
		if _, err := os.Stat(c.Source); os.IsNotExist(err) {
			return fmt.Errorf("source path '%s' does not exist", c.Source)
		}
	}

	seen := make(map[string]struct{}, len(c.Destinations))
	for i, d := range c.Destinations {
		d, err = util.ExpandPath(d)
		if err != nil {
			return fmt.Errorf("could not expand destination path %s: %w", c.Destinations[i], err)
		}
		d = filepath.Clean(d)
		if d == c.Source {
			return fmt.Errorf("destination %s is the source", d)
		}
		if _, dup := seen[d]; dup {
			return fmt.Errorf("destination %s is listed twice", d)
		}
		seen[d] = struct{}{}
		c.Destinations[i] = d
	}

	if c.StateDir != "" {
		if c.StateDir, err = util.ExpandPath(c.StateDir); err != nil {
			return fmt.Errorf("could not expand state directory: %w", err)
		}
	}
	if c.LogFile != "" {
		if c.LogFile, err = util.ExpandPath(c.LogFile); err != nil {
			return fmt.Errorf("could not expand log file path: %w", err)
		}
	}
	if _, err := plog.LevelFromString(c.LogLevel); err != nil {
		return err
	}

	switch {
	case c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0:
		return fmt.Errorf("logMaxSizeMB and logMaxBackups cannot be negative")
	case c.Sync.ModTimeWindowSeconds < 0:
		return fmt.Errorf("sync.modTimeWindowSeconds cannot be negative")
	case c.Sync.RetryCount < 0:
		return fmt.Errorf("sync.retryCount cannot be negative")
	case c.Sync.RetryWaitMillis < 0:
		return fmt.Errorf("sync.retryWaitMillis cannot be negative")
	case c.Sync.ParallelDestinations < 1:
		return fmt.Errorf("sync.parallelDestinations must be at least 1")
	case c.Sync.MinFreeSpaceMB < 0:
		return fmt.Errorf("sync.minFreeSpaceMB cannot be negative")
	case c.Sync.BufferSizeKB <= 0:
		return fmt.Errorf("sync.bufferSizeKB must be positive")
	case c.Sync.LockWaitSeconds < 0:
		return fmt.Errorf("sync.lockWaitSeconds cannot be negative")
	case c.Metadata.Enabled && c.Metadata.CacheSize < 0:
		return fmt.Errorf("metadata.cacheSize cannot be negative")
	case c.Watch.Enabled && c.Watch.DebounceMillis <= 0:
		return fmt.Errorf("watch.debounceMillis must be positive")
	}
	return nil
}

// EngineOptions converts the sync settings for pathsync.NewEngine.
func (c *Config) EngineOptions() pathsync.Options {
	return pathsync.Options{
		ModTimeWindow:    time.Duration(c.Sync.ModTimeWindowSeconds) * time.Second,
		RetryCount:       c.Sync.RetryCount,
		RetryWait:        time.Duration(c.Sync.RetryWaitMillis) * time.Millisecond,
		BufferSize:       c.Sync.BufferSizeKB * 1024,
		ProgressInterval: time.Duration(c.Sync.ProgressSeconds) * time.Second,
		LockWait:         time.Duration(c.Sync.LockWaitSeconds) * time.Second,
	}
}

// OrchestratorOptions converts the destination settings for
// pathsync.NewOrchestrator.
func (c *Config) OrchestratorOptions() pathsync.OrchestratorOptions {
	return pathsync.OrchestratorOptions{
		Parallel:     c.Sync.ParallelDestinations,
		MinFreeBytes: uint64(c.Sync.MinFreeSpaceMB) * 1024 * 1024,
	}
}

// HookPlan returns the commands to run around each pass.
func (c *Config) HookPlan() hook.Plan {
	return hook.Plan{
		PreSync:  c.Hooks.PreSync,
		PostSync: c.Hooks.PostSync,
		FailFast: c.Hooks.FailFast,
	}
}

// CacheTTL returns the metadata cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Metadata.CacheTTLSeconds) * time.Second
}

// Debounce returns the watcher quiet period.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}

// LogSummary prints the effective configuration.
func (c *Config) LogSummary() {
	logArgs := []any{
		"source", c.Source,
		"destinations", c.Destinations,
		"log_level", c.LogLevel,
		"state_dir", c.StateDir,
		"mod_time_window_s", c.Sync.ModTimeWindowSeconds,
		"retries", c.Sync.RetryCount,
		"parallel", c.Sync.ParallelDestinations,
		"buffer_size_kb", c.Sync.BufferSizeKB,
	}
	if c.Sync.MinFreeSpaceMB > 0 {
		logArgs = append(logArgs, "min_free_mb", c.Sync.MinFreeSpaceMB)
	}
	if c.Metadata.Enabled {
		logArgs = append(logArgs, "metadata", fmt.Sprintf("enabled (n:%d ttl:%ds)", c.Metadata.CacheSize, c.Metadata.CacheTTLSeconds))
	} else {
		logArgs = append(logArgs, "metadata", "disabled")
	}
	if n := len(c.Hooks.PreSync) + len(c.Hooks.PostSync); n > 0 {
		logArgs = append(logArgs, "hooks", n)
	}
	if c.Watch.Enabled {
		logArgs = append(logArgs, "watch", fmt.Sprintf("enabled (d:%dms)", c.Watch.DebounceMillis))
	}
	plog.Info("Configuration loaded", logArgs...)
}
