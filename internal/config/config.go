// Package config loads and validates roster configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/lookup"
	"github.com/JakeFAU/tt2-roster/internal/storage/postgres"
)

// EnvPrefix namespaces environment overrides, e.g. ROSTER_STORE_PATH.
const EnvPrefix = "ROSTER"

// Config captures all knobs loaded via Viper.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Fill       FillConfig       `mapstructure:"fill"`
	Recheck    RecheckConfig    `mapstructure:"recheck"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot"`
	Publish    PublishConfig    `mapstructure:"publish"`
}

// StoreConfig locates the CSV roster.
type StoreConfig struct {
	Path              string        `mapstructure:"path"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	CheckpointEvery   int           `mapstructure:"checkpoint_every"`
	PlaceholderPrefix string        `mapstructure:"placeholder_prefix"`
}

// RemoteConfig describes the profile endpoint.
type RemoteConfig struct {
	URLTemplate string        `mapstructure:"url_template"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Rich also harvests the per-game account listings.
	Rich bool `mapstructure:"rich"`
}

// RetryConfig configures retries of a single lookup.
type RetryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffFactor time.Duration `mapstructure:"backoff_factor"`
	MaxBackoff    time.Duration `mapstructure:"max_backoff"`
	Statuses      []int         `mapstructure:"statuses"`
}

// PolitenessConfig spaces out requests.
type PolitenessConfig struct {
	MinDelay   time.Duration `mapstructure:"min_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	StaggerMin time.Duration `mapstructure:"stagger_min"`
	StaggerMax time.Duration `mapstructure:"stagger_max"`
}

// DispatchConfig sizes the worker pool.
type DispatchConfig struct {
	Workers    int     `mapstructure:"workers"`
	QueueDepth int     `mapstructure:"queue_depth"`
	RPS        float64 `mapstructure:"rps"`
	Burst      int     `mapstructure:"burst"`
}

// FillConfig bounds gap filling.
type FillConfig struct {
	Start  uint64 `mapstructure:"start"`
	End    uint64 `mapstructure:"end"`
	Passes int    `mapstructure:"passes"`
}

// RecheckConfig bounds placeholder re-checks.
type RecheckConfig struct {
	MaxPasses    int           `mapstructure:"max_passes"`
	PassInterval time.Duration `mapstructure:"pass_interval"`
}

// ServerConfig controls the lookup API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	APIKey         string        `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// MetricsConfig enables a metrics listener during crawl runs.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// MirrorConfig enables the Postgres mirror.
type MirrorConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// Snapshot backends.
const (
	SnapshotNone  = ""
	SnapshotLocal = "local"
	SnapshotGCS   = "gcs"
)

// SnapshotConfig selects where compacted files are archived.
type SnapshotConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PublishConfig enables run report publishing to Pub/Sub.
type PublishConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"store":      "store.path",
	"dev":        "logging.development",
	"log-level":  "logging.level",
	"workers":    "dispatch.workers",
	"start":      "fill.start",
	"end":        "fill.end",
	"passes":     "fill.passes",
	"max-passes": "recheck.max_passes",
	"port":       "server.port",
	"rich":       "remote.rich",
}

// Load builds a Config from defaults, an optional file, the environment and
// any known flags in flags. Later sources win.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "enkord_accounts.csv")
	v.SetDefault("store.lock_ttl", 30*time.Minute)
	v.SetDefault("store.checkpoint_every", 50)
	v.SetDefault("store.placeholder_prefix", crawler.DefaultPlaceholderPrefix)
	v.SetDefault("remote.url_template", lookup.DefaultURLTemplate)
	v.SetDefault("remote.user_agent", "tt2-roster/1.0 (+https://github.com/JakeFAU/tt2-roster)")
	v.SetDefault("remote.timeout", 20*time.Second)
	v.SetDefault("remote.rich", false)
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.backoff_factor", 1500*time.Millisecond)
	v.SetDefault("retry.max_backoff", 2*time.Minute)
	v.SetDefault("retry.statuses", crawler.DefaultRetryStatuses)
	v.SetDefault("politeness.min_delay", time.Second)
	v.SetDefault("politeness.max_delay", 3*time.Second)
	v.SetDefault("politeness.stagger_min", 200*time.Millisecond)
	v.SetDefault("politeness.stagger_max", 800*time.Millisecond)
	v.SetDefault("dispatch.workers", 6)
	v.SetDefault("dispatch.queue_depth", 64)
	v.SetDefault("dispatch.rps", 0)
	v.SetDefault("dispatch.burst", 1)
	v.SetDefault("fill.start", 1)
	v.SetDefault("fill.end", 0)
	v.SetDefault("fill.passes", 1)
	v.SetDefault("recheck.max_passes", 5)
	v.SetDefault("recheck.pass_interval", 10*time.Second)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl", 30*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.postgres.table", postgres.DefaultTable)
	v.SetDefault("snapshot.backend", SnapshotNone)
	v.SetDefault("snapshot.prefix", "snapshots")
	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.topic", "roster-runs")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Store.CheckpointEvery <= 0 {
		errs = append(errs, errors.New("store.checkpoint_every must be > 0"))
	}
	if err := lookup.ValidateTemplate(c.Remote.URLTemplate); err != nil {
		errs = append(errs, fmt.Errorf("remote.url_template: %w", err))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, errors.New("remote.timeout must be > 0"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be >= 0"))
	}
	if c.Retry.BackoffFactor <= 0 || c.Retry.MaxBackoff < c.Retry.BackoffFactor {
		errs = append(errs, errors.New("retry.backoff_factor must be > 0 and <= retry.max_backoff"))
	}
	if c.Politeness.MinDelay < 0 || c.Politeness.MaxDelay < c.Politeness.MinDelay {
		errs = append(errs, errors.New("politeness.min_delay must be >= 0 and <= politeness.max_delay"))
	}
	if c.Politeness.StaggerMin < 0 || c.Politeness.StaggerMax < c.Politeness.StaggerMin {
		errs = append(errs, errors.New("politeness.stagger_min must be >= 0 and <= politeness.stagger_max"))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("dispatch.workers must be > 0"))
	}
	if c.Dispatch.QueueDepth <= 0 {
		errs = append(errs, errors.New("dispatch.queue_depth must be > 0"))
	}
	if c.Dispatch.RPS < 0 {
		errs = append(errs, errors.New("dispatch.rps must be >= 0"))
	}
	if c.Fill.End != 0 && c.Fill.End < c.Fill.Start {
		errs = append(errs, errors.New("fill.end must be >= fill.start"))
	}
	if c.Fill.Passes <= 0 {
		errs = append(errs, errors.New("fill.passes must be > 0"))
	}
	if c.Recheck.MaxPasses <= 0 {
		errs = append(errs, errors.New("recheck.max_passes must be > 0"))
	}
	if c.Recheck.PassInterval < 0 {
		errs = append(errs, errors.New("recheck.pass_interval must be >= 0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, errors.New("server.port must be between 1 and 65535"))
	}
	if c.Mirror.Enabled && c.Mirror.Postgres.DSN == "" {
		errs = append(errs, errors.New("mirror.postgres.dsn is required when the mirror is enabled"))
	}
	switch c.Snapshot.Backend {
	case SnapshotNone:
	case SnapshotLocal:
		if c.Snapshot.LocalDir == "" {
			errs = append(errs, errors.New("snapshot.local_dir is required for the local backend"))
		}
	case SnapshotGCS:
		if c.Snapshot.Bucket == "" {
			errs = append(errs, errors.New("snapshot.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.backend %q is not one of local, gcs", c.Snapshot.Backend))
	}
	if c.Publish.Enabled && (c.Publish.ProjectID == "" || c.Publish.Topic == "") {
		errs = append(errs, errors.New("publish.project_id and publish.topic are required when publishing is enabled"))
	}
	return errors.Join(errs...)
}
