// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Typed configuration loaded through viper.

package control

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-flow/api"
)

// EnvPrefix is prepended to every environment override, e.g.
// HIOLOAD_FLOW_NUM_WORKERS=4 or HIOLOAD_FLOW_LOG_LEVEL=debug.
const EnvPrefix = "HIOLOAD_FLOW"

// Config is the root configuration of a resource context.
type Config struct {
	NumWorkers          int           `mapstructure:"num_workers"`
	SegmentSize         int           `mapstructure:"segment_size"`
	LivenessTimeout     time.Duration `mapstructure:"liveness_timeout"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	BackoffBudget       time.Duration `mapstructure:"backoff_budget"`
	MaxFragmentsPerPoll int           `mapstructure:"max_fragments_per_poll"`
	MaxFramesPerTick    int           `mapstructure:"max_frames_per_tick"`
	MaxMessageSize      int           `mapstructure:"max_message_size"`
	MaxDemand           int64         `mapstructure:"max_demand"`
	SendQueueCapacity   int           `mapstructure:"send_queue_capacity"`
	TaskQueueCapacity   int           `mapstructure:"task_queue_capacity"`

	// HeartbeatInterval of zero means a quarter of LivenessTimeout; a
	// negative value disables heartbeats.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	IdleMaxPark       time.Duration `mapstructure:"idle_max_park"`
	PinWorkers        bool          `mapstructure:"pin_workers"`

	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		NumWorkers:          runtime.NumCPU(),
		LivenessTimeout:     5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		BackoffBudget:       time.Second,
		MaxFragmentsPerPoll: 64,
		MaxFramesPerTick:    64,
		MaxMessageSize:      16 << 20,
		MaxDemand:           math.MaxInt64,
		SendQueueCapacity:   1024,
		TaskQueueCapacity:   4096,
		IdleMaxPark:         time.Millisecond,
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/hioload-flow.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// EffectiveHeartbeat resolves HeartbeatInterval. Zero derives it from the
// liveness timeout; a negative value disables heartbeats and yields zero.
func (c *Config) EffectiveHeartbeat() time.Duration {
	switch {
	case c.HeartbeatInterval < 0:
		return 0
	case c.HeartbeatInterval == 0:
		return c.LivenessTimeout / 4
	default:
		return c.HeartbeatInterval
	}
}

// Validate rejects non-positive limits. Segment size against the MTU is
// checked once a publication exists.
func (c *Config) Validate() error {
	bad := func(key string, v any) error {
		return api.NewError(api.ErrCodeInvalidArgument, "invalid configuration").
			WithContext("key", key).WithContext("value", v)
	}
	switch {
	case c.NumWorkers <= 0:
		return bad("num_workers", c.NumWorkers)
	case c.SegmentSize < 0:
		return bad("segment_size", c.SegmentSize)
	case c.LivenessTimeout <= 0:
		return bad("liveness_timeout", c.LivenessTimeout)
	case c.ConnectTimeout <= 0:
		return bad("connect_timeout", c.ConnectTimeout)
	case c.BackoffBudget <= 0:
		return bad("backoff_budget", c.BackoffBudget)
	case c.MaxFragmentsPerPoll <= 0:
		return bad("max_fragments_per_poll", c.MaxFragmentsPerPoll)
	case c.MaxFramesPerTick <= 0:
		return bad("max_frames_per_tick", c.MaxFramesPerTick)
	case c.MaxMessageSize <= 0:
		return bad("max_message_size", c.MaxMessageSize)
	case c.MaxDemand <= 0:
		return bad("max_demand", c.MaxDemand)
	case c.SendQueueCapacity <= 0:
		return bad("send_queue_capacity", c.SendQueueCapacity)
	case c.TaskQueueCapacity <= 0:
		return bad("task_queue_capacity", c.TaskQueueCapacity)
	case c.IdleMaxPark <= 0:
		return bad("idle_max_park", c.IdleMaxPark)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return bad("log.level", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	return nil
}

// Loader reads configuration from one source and can watch it for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader prepares a loader for path. An empty path falls back to
// $HIOLOAD_FLOW_CONFIG and then to hioload-flow.{yaml,toml,json} in the
// working directory or ./configs.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	seedDefaults(v, Default())

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hioload-flow")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	return &Loader{v: v, path: path}
}

// Load is NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Load reads the file if present, applies env overrides and validates.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watch invokes fn with the re-decoded configuration each time the config
// file changes. Only meaningful after a successful Load from a file.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		fn(l.decode())
	})
	l.v.WatchConfig()
}

func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("num_workers", cfg.NumWorkers)
	v.SetDefault("segment_size", cfg.SegmentSize)
	v.SetDefault("liveness_timeout", cfg.LivenessTimeout)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)
	v.SetDefault("backoff_budget", cfg.BackoffBudget)
	v.SetDefault("max_fragments_per_poll", cfg.MaxFragmentsPerPoll)
	v.SetDefault("max_frames_per_tick", cfg.MaxFramesPerTick)
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("max_demand", cfg.MaxDemand)
	v.SetDefault("send_queue_capacity", cfg.SendQueueCapacity)
	v.SetDefault("task_queue_capacity", cfg.TaskQueueCapacity)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("idle_max_park", cfg.IdleMaxPark)
	v.SetDefault("pin_workers", cfg.PinWorkers)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}
