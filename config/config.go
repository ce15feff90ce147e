// Package config loads drain settings from flags, environment variables and
// an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/franksops/bbdrain/engine"
)

// EnvPrefix prefixes every environment variable, e.g. BBDRAIN_BUFFER_SIZE.
const EnvPrefix = "BBDRAIN"

const (
	keySource        = "source"
	keyDest          = "dest"
	keyBufferSize    = "buffer-size"
	keyVerbose       = "verbose"
	keyRank          = "rank"
	keyLogLevel      = "log-level"
	keyLogFormat     = "log-format"
	keyJournal       = "journal"
	keyMetricsListen = "metrics-listen"
	keyUI            = "ui"
	keySpoolDir      = "spool-dir"
	keyRunID         = "run-id"
)

var (
	// ErrMissingSource is returned when no staging directory is configured.
	ErrMissingSource = errors.New("source is required")
	// ErrMissingDest is returned when no drain destination is configured.
	ErrMissingDest = errors.New("dest is required")
)

// Config holds the settings of one drain run.
type Config struct {
	// Source is the burst buffer staging path to drain.
	Source string
	// Dest is a local directory or an s3://bucket/prefix URL.
	Dest string

	BufferSize int
	Verbose    int
	Rank       int

	LogLevel  string
	LogFormat string

	// Journal is the bbolt database path; empty disables journaling.
	Journal string
	// MetricsListen is the Prometheus listen address; empty disables it.
	MetricsListen string

	UI       bool
	SpoolDir string
	RunID    string
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		BufferSize: engine.DefaultBufferSize,
		Verbose:    1,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// AddFlags registers every setting on fs with its default.
func AddFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String(keySource, "", "burst buffer staging path to drain")
	fs.String(keyDest, "", "destination directory or s3://bucket/prefix")
	fs.String(keyBufferSize, humanize.IBytes(uint64(def.BufferSize)), "transfer buffer size (e.g. 4MiB)")
	fs.IntP(keyVerbose, "v", def.Verbose, "0 quiet, 1 summary, 2 per-operation trace")
	fs.Int(keyRank, 0, "rank reported in drain logs")
	fs.String(keyLogLevel, def.LogLevel, "log level (trace, debug, info, warn, error)")
	fs.String(keyLogFormat, def.LogFormat, "log format (text or json)")
	fs.String(keyJournal, "", "bbolt journal path (empty disables)")
	fs.String(keyMetricsListen, "", "Prometheus listen address (empty disables)")
	fs.Bool(keyUI, false, "show the interactive progress view")
	fs.String(keySpoolDir, "", "directory for S3 upload spool files")
	fs.String(keyRunID, "", "run identifier (default: random UUID)")
}

// Load merges defaults, the optional config file at path, BBDRAIN_*
// environment variables and flags, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if path != "" {
		if err := readConfigFile(v); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	cfg.Source = strings.TrimSpace(v.GetString(keySource))
	cfg.Dest = strings.TrimSpace(v.GetString(keyDest))
	if v.IsSet(keyVerbose) {
		cfg.Verbose = v.GetInt(keyVerbose)
	}
	cfg.Rank = v.GetInt(keyRank)
	if level := strings.TrimSpace(v.GetString(keyLogLevel)); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := strings.TrimSpace(v.GetString(keyLogFormat)); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}
	cfg.Journal = v.GetString(keyJournal)
	cfg.MetricsListen = v.GetString(keyMetricsListen)
	cfg.UI = v.GetBool(keyUI)
	cfg.SpoolDir = v.GetString(keySpoolDir)
	cfg.RunID = v.GetString(keyRunID)

	if raw := strings.TrimSpace(v.GetString(keyBufferSize)); raw != "" {
		size, err := ParseBufferSize(raw)
		if err != nil {
			return nil, err
		}
		cfg.BufferSize = size
	}

	return cfg, nil
}

// ParseBufferSize parses a human byte size such as "4MiB" or "65536".
func ParseBufferSize(raw string) (int, error) {
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", keyBufferSize, err)
	}
	if size == 0 || size > 1<<31-1 {
		return 0, fmt.Errorf("parse %s: %w: %s", keyBufferSize, engine.ErrInvalidBufferSize, raw)
	}
	return int(size), nil
}

// Validate checks that the settings describe a runnable drain.
func (c *Config) Validate() error {
	if c.Source == "" {
		return ErrMissingSource
	}
	if c.Dest == "" {
		return ErrMissingDest
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: %d", engine.ErrInvalidBufferSize, c.BufferSize)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// S3Target splits an s3://bucket/prefix destination. ok is false for local
// destinations.
func (c *Config) S3Target() (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(c.Dest, "s3://")
	if !found {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

func setupViper(v *viper.Viper, path string) {
	// Environment variables use the BBDRAIN_ prefix and underscores
	// Example: BBDRAIN_BUFFER_SIZE=4MiB
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
