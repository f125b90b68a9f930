package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log           LogConfig          `mapstructure:"log"`
	HTTP          HTTPConfig         `mapstructure:"http"`
	MySQL         DatabaseConfig     `mapstructure:"mysql"`
	ClickHouse    DatabaseConfig     `mapstructure:"clickhouse"`
	Redis         RedisConfig        `mapstructure:"redis"`
	Kafka         KafkaConfig        `mapstructure:"kafka"`
	RateLimit     RateLimitConfig    `mapstructure:"rate_limit"`
	Commerce      CommerceConfig     `mapstructure:"commerce"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Checkout      CheckoutConfig     `mapstructure:"checkout"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Mailer        MailerConfig       `mapstructure:"mailer"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type RateLimitConfig struct {
	RPS   int `mapstructure:"rps"`
	Burst int `mapstructure:"burst"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

func (b BreakerConfig) OpenFor() time.Duration {
	return time.Duration(b.OpenForMs) * time.Millisecond
}

// CommerceConfig points at the commerce store API and its payment provider.
type CommerceConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PublishableKey string        `mapstructure:"publishable_key"`
	APIToken       string        `mapstructure:"api_token"`
	RegionID       string        `mapstructure:"region_id"`
	SalesChannelID string        `mapstructure:"sales_channel_id"`
	ProviderID     string        `mapstructure:"provider_id"` // e.g. pp_stripe_stripe
	TimeoutMs      int           `mapstructure:"timeout_ms"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

type SchedulerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	BatchSize     int           `mapstructure:"batch_size"`
	Timezone      string        `mapstructure:"timezone"`
	WriteAttempts int           `mapstructure:"write_attempts"`
}

// Location resolves Timezone; an empty value means the process-local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

type CheckoutConfig struct {
	KeyPrefix    string        `mapstructure:"key_prefix"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// MachineIdle evicts in-memory checkout machines unused this long.
	MachineIdle  time.Duration `mapstructure:"machine_idle"`
}

type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
	From    string `mapstructure:"from"`
}

type MailerConfig struct {
	WorkerCount int              `mapstructure:"worker_count"`
	MaxAttempts int              `mapstructure:"max_attempts"`
	Providers   []ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	Path      string        `mapstructure:"path"`
	APIKey    string        `mapstructure:"api_key"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (RECUR_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// env override (RECUR_MYSQL_DSN -> mysql.dsn)
	v.SetEnvPrefix("RECUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
