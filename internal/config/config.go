// Package config loads arbor's runtime configuration.
//
// Values are layered: flag defaults, then an optional YAML file, then flags
// set explicitly on the command line. YAML keys match flag names.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/jacentio/arbor/internal/logging"
	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/schema"
	"github.com/jacentio/arbor/store"
)

// Config is the configuration shared by the arbor binaries.
type Config struct {
	Table    string `koanf:"table"`
	Region   string `koanf:"region"`
	Profile  string `koanf:"profile"`
	Endpoint string `koanf:"endpoint"`

	Shards             int           `koanf:"shards"`
	Retention          time.Duration `koanf:"retention"`
	PageSize           int           `koanf:"page-size"`
	MaxPageSize        int           `koanf:"max-page-size"`
	RetryAttempts      int           `koanf:"retry-attempts"`
	RetryBaseDelay     time.Duration `koanf:"retry-base-delay"`
	RetryMaxDelay      time.Duration `koanf:"retry-max-delay"`
	CascadeConcurrency int           `koanf:"cascade-concurrency"`

	// Schemas is the path of a schema manifest.
	Schemas string `koanf:"schemas"`

	// Types registers entity types as "name=maxVersion" when no manifest
	// is configured.
	Types []string `koanf:"types"`

	// AssetWebhook receives purge notifications. Empty only logs them.
	AssetWebhook string `koanf:"asset-webhook"`

	LogFormat string `koanf:"log-format"`
	LogLevel  string `koanf:"log-level"`
}

// Register adds the configuration flags to fs.
func Register(fs *pflag.FlagSet) {
	d := store.DefaultConfig()
	fs.String("table", "arbor", "DynamoDB table name")
	fs.String("region", "", "AWS region (default: from the environment)")
	fs.String("profile", "", "AWS shared config profile")
	fs.String("endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	fs.Int("shards", d.NumShards, "partitions per parent; must not change once data exists")
	fs.Duration("retention", d.DefaultRetention, "default soft-delete retention")
	fs.Int("page-size", d.Page.DefaultSize, "default page size")
	fs.Int("max-page-size", d.Page.MaxSize, "maximum page size")
	fs.Int("retry-attempts", d.RetryAttempts, "retries for transient store failures")
	fs.Duration("retry-base-delay", d.RetryBaseDelay, "first retry backoff")
	fs.Duration("retry-max-delay", d.RetryMaxDelay, "retry backoff cap")
	fs.Int("cascade-concurrency", d.CascadeConcurrency, "sibling branches processed in parallel by a cascade")
	fs.String("schemas", "", "schema manifest (YAML)")
	fs.StringSlice("types", nil, "entity types without a manifest, as name=maxVersion (repeatable)")
	fs.String("asset-webhook", "", "URL notified when worlds and entities are purged")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// Load reads the configuration from the YAML file at path, if any, and the
// flags of fs. Flags set explicitly win over the file; the file wins over
// flag defaults.
func Load(fs *pflag.FlagSet, path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	// Unchanged flags only fill keys the file left unset.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be clamped.
func (c Config) Validate() error {
	var errs []error
	if c.Table == "" {
		errs = append(errs, errors.New("table is required"))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("log-format must be json or text, got %q", c.LogFormat))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseTypes(c.Types); err != nil {
		errs = append(errs, err)
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("retention must not be negative, got %s", c.Retention))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Level returns the parsed log level.
func (c Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// Store returns the repository configuration. Out-of-range values are
// clamped by store.New.
func (c Config) Store() store.Config {
	cfg := store.DefaultConfig()
	cfg.NumShards = c.Shards
	cfg.DefaultRetention = c.Retention
	cfg.Page = paginate.Limits{DefaultSize: c.PageSize, MaxSize: c.MaxPageSize}
	cfg.RetryAttempts = c.RetryAttempts
	cfg.RetryBaseDelay = c.RetryBaseDelay
	cfg.RetryMaxDelay = c.RetryMaxDelay
	cfg.CascadeConcurrency = c.CascadeConcurrency
	return cfg
}

// Registry returns the schema registry: the manifest when one is
// configured, otherwise the types listed in Types.
func (c Config) Registry() (schema.Registry, error) {
	if c.Schemas != "" {
		reg, err := schema.LoadFileRegistry(c.Schemas)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
	versions, err := parseTypes(c.Types)
	if err != nil {
		return nil, err
	}
	reg := schema.NewStaticRegistry()
	for entityType, maxVersion := range versions {
		reg.Register(entityType, maxVersion)
	}
	return reg, nil
}

func parseTypes(types []string) (map[string]int, error) {
	out := make(map[string]int, len(types))
	for _, t := range types {
		name, v, ok := strings.Cut(t, "=")
		name = strings.TrimSpace(name)
		maxVersion, err := strconv.Atoi(strings.TrimSpace(v))
		if !ok || name == "" || err != nil || maxVersion < 1 {
			return nil, fmt.Errorf("type %q must look like name=maxVersion", t)
		}
		out[name] = maxVersion
	}
	return out, nil
}
