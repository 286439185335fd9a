package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Scylla    ScyllaConfig    `mapstructure:"scylla"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	StatusTopic     string        `mapstructure:"status_topic"`
	DeadLetterTopic string        `mapstructure:"dead_letter_topic"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DispatchConfig governs the dispatcher tick loop.
type DispatchConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	CampaignFetchLimit int           `mapstructure:"campaign_fetch_limit"`
	DefaultConcurrency int           `mapstructure:"default_concurrency"`
}

// SyncConfig governs status synchronization.
type SyncConfig struct {
	// ConnectedThreshold is the minimum terminal call duration treated as
	// a real conversation rather than a pickup-and-hangup.
	ConnectedThreshold time.Duration `mapstructure:"connected_threshold"`
}

// ThrottleConfig caps simultaneous placement requests against the provider
// across all campaigns. This is a provider quota guard, not the per-campaign
// concurrency ceiling (that is enforced by queue claiming).
type ThrottleConfig struct {
	GlobalConcurrency int           `mapstructure:"global_concurrency"`
	SlotTTL           time.Duration `mapstructure:"slot_ttl"`
}

type ProviderConfig struct {
	Name           string        `mapstructure:"name"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LedgerConfig struct {
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("DIALER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}

func applyDefaults(cfg *Config) {
	if cfg.Dispatch.TickInterval <= 0 {
		cfg.Dispatch.TickInterval = 30 * time.Second
	}
	if cfg.Dispatch.CampaignFetchLimit <= 0 {
		cfg.Dispatch.CampaignFetchLimit = 100
	}
	if cfg.Dispatch.DefaultConcurrency <= 0 {
		cfg.Dispatch.DefaultConcurrency = 5
	}
	if cfg.Sync.ConnectedThreshold <= 0 {
		cfg.Sync.ConnectedThreshold = 45 * time.Second
	}
	if cfg.Ledger.KeyPrefix == "" {
		cfg.Ledger.KeyPrefix = "dialer:credits"
	}
}
