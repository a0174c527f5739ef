package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/trainyard/pkg/health"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/cuemby/trainyard/pkg/monitor"
	"github.com/cuemby/trainyard/pkg/postgres"
	"github.com/cuemby/trainyard/pkg/redis"
	"github.com/cuemby/trainyard/pkg/remote"
	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRAINYARD_SERVER_ADDR
const EnvPrefix = "TRAINYARD"

// Storage backends
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Health     HealthConfig     `mapstructure:"health"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode is the gin mode: debug, release or test
	Mode string `mapstructure:"mode"`
}

type StorageConfig struct {
	Backend  string          `mapstructure:"backend"`
	DataDir  string          `mapstructure:"data_dir"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// RedisConfig enables the shared reservation lock. Leave it disabled for a
// single scheduler process.
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Conn    redis.Config  `mapstructure:",squash"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type WorkspaceConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type SchedulerConfig struct {
	LabelingInterval time.Duration `mapstructure:"labeling_interval"`
	TrainingInterval time.Duration `mapstructure:"training_interval"`
	LabelingWorkers  int           `mapstructure:"labeling_workers"`
	TrainingWorkers  int           `mapstructure:"training_workers"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	Strategy         string        `mapstructure:"strategy"`
}

type StageConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxErrors    int           `mapstructure:"max_errors"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type MonitorConfig struct {
	Labeling StageConfig `mapstructure:"labeling"`
	Training StageConfig `mapstructure:"training"`
}

type RemoteConfig struct {
	SubmitTimeout time.Duration `mapstructure:"submit_timeout"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
	CancelTimeout time.Duration `mapstructure:"cancel_timeout"`
	RateLimit     float64       `mapstructure:"rate_limit"`
	Burst         int           `mapstructure:"burst"`
}

type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type HealthConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	LabelingPath string        `mapstructure:"labeling_path"`
	TrainingPath string        `mapstructure:"training_path"`
}

type SecurityConfig struct {
	// Passphrase derives the key that seals asset SSH passwords. Without it
	// assets cannot carry a password.
	Passphrase string `mapstructure:"passphrase"`
}

func setDefaults(v *viper.Viper) {
	sched := scheduler.DefaultConfig()
	mon := monitor.DefaultConfig()
	rem := remote.DefaultOptions()
	hc := health.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("storage.backend", BackendBolt)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.user", "trainyard")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.name", "trainyard")
	v.SetDefault("storage.postgres.ssl_mode", "disable")
	v.SetDefault("storage.postgres.time_zone", "UTC")
	v.SetDefault("storage.postgres.max_idle_conns", 5)
	v.SetDefault("storage.postgres.max_open_conns", 20)
	v.SetDefault("storage.postgres.conn_max_lifetime", "30m")
	v.SetDefault("storage.postgres.log_level", "warn")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.lock_ttl", 30*time.Second)

	v.SetDefault("workspace.base_path", "./data/workspace")

	v.SetDefault("scheduler.labeling_interval", sched.LabelingInterval)
	v.SetDefault("scheduler.training_interval", sched.TrainingInterval)
	v.SetDefault("scheduler.labeling_workers", sched.LabelingWorkers)
	v.SetDefault("scheduler.training_workers", sched.TrainingWorkers)
	v.SetDefault("scheduler.lock_timeout", sched.LockTimeout)
	v.SetDefault("scheduler.strategy", "least-loaded")

	v.SetDefault("monitor.labeling.poll_interval", mon.Labeling.PollInterval)
	v.SetDefault("monitor.labeling.max_errors", mon.Labeling.MaxErrors)
	v.SetDefault("monitor.labeling.max_backoff", mon.Labeling.MaxBackoff)
	v.SetDefault("monitor.training.poll_interval", mon.Training.PollInterval)
	v.SetDefault("monitor.training.max_errors", mon.Training.MaxErrors)
	v.SetDefault("monitor.training.max_backoff", mon.Training.MaxBackoff)

	v.SetDefault("remote.submit_timeout", rem.SubmitTimeout)
	v.SetDefault("remote.poll_timeout", rem.PollTimeout)
	v.SetDefault("remote.cancel_timeout", rem.CancelTimeout)
	v.SetDefault("remote.rate_limit", rem.RateLimit)
	v.SetDefault("remote.burst", rem.Burst)

	v.SetDefault("reconciler.interval", time.Minute)

	v.SetDefault("health.enabled", true)
	v.SetDefault("health.timeout", hc.Timeout)
	v.SetDefault("health.retries", hc.Retries)
	v.SetDefault("health.labeling_path", hc.LabelingPath)
	v.SetDefault("health.training_path", hc.TrainingPath)

	v.SetDefault("security.passphrase", "")
}

// Load reads path (if not empty) and applies environment overrides
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the components cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendBolt, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendBolt, BackendPostgres, c.Storage.Backend))
	}
	if c.Scheduler.LabelingWorkers < 1 || c.Scheduler.TrainingWorkers < 1 {
		errs = append(errs, errors.New("scheduler workers must be at least 1"))
	}
	if c.Scheduler.LabelingInterval <= 0 || c.Scheduler.TrainingInterval <= 0 {
		errs = append(errs, errors.New("scheduler intervals must be positive"))
	}
	for name, s := range map[string]StageConfig{"labeling": c.Monitor.Labeling, "training": c.Monitor.Training} {
		if s.MaxErrors < 1 {
			errs = append(errs, fmt.Errorf("monitor.%s.max_errors must be at least 1", name))
		}
		if s.PollInterval <= 0 {
			errs = append(errs, fmt.Errorf("monitor.%s.poll_interval must be positive", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoggerConfig returns the logger settings
func (c *Config) LoggerConfig() log.Config {
	return log.Config{Level: log.ParseLevel(c.Log.Level), JSONOutput: c.Log.JSON}
}

// SchedulerConfig returns the scheduler loop settings
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		LabelingInterval: c.Scheduler.LabelingInterval,
		TrainingInterval: c.Scheduler.TrainingInterval,
		LabelingWorkers:  c.Scheduler.LabelingWorkers,
		TrainingWorkers:  c.Scheduler.TrainingWorkers,
		LockTimeout:      c.Scheduler.LockTimeout,
	}
}

// MonitorConfig returns the per-stage polling policy
func (c *Config) MonitorConfig() monitor.Config {
	stage := func(s StageConfig) monitor.StageConfig {
		return monitor.StageConfig{PollInterval: s.PollInterval, MaxErrors: s.MaxErrors, MaxBackoff: s.MaxBackoff}
	}
	return monitor.Config{Labeling: stage(c.Monitor.Labeling), Training: stage(c.Monitor.Training)}
}

// RemoteOptions returns the remote client settings
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		SubmitTimeout: c.Remote.SubmitTimeout,
		PollTimeout:   c.Remote.PollTimeout,
		CancelTimeout: c.Remote.CancelTimeout,
		RateLimit:     c.Remote.RateLimit,
		Burst:         c.Remote.Burst,
	}
}

// HealthConfig returns the asset verification settings
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		Timeout:      c.Health.Timeout,
		Retries:      c.Health.Retries,
		LabelingPath: c.Health.LabelingPath,
		TrainingPath: c.Health.TrainingPath,
	}
}
