package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Server      ServerConfig     `mapstructure:"server"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Redis       RedisConfig      `mapstructure:"redis"`
	JWT         JWTConfig        `mapstructure:"jwt"`
	Security    SecurityConfig   `mapstructure:"security"`
	Poller      PollerConfig     `mapstructure:"poller"`
	Dispatcher  DispatcherConfig `mapstructure:"dispatcher"`
	Stats       StatsConfig      `mapstructure:"stats"`
	Signals     SignalsConfig    `mapstructure:"signals"`
	PriceFeeds  PriceFeedsConfig `mapstructure:"price_feeds"`
	Kafka       KafkaConfig      `mapstructure:"kafka"`
	Email       EmailConfig      `mapstructure:"email"`
	Tracing     TracingConfig    `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
	ShutdownTimeout int      `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
	Enabled    bool   `mapstructure:"enabled"`
}

type JWTConfig struct {
	Secret        string `mapstructure:"secret"`
	AdminTokenTTL int    `mapstructure:"admin_token_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// PollerConfig drives the poll scheduler and its cadence.
type PollerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	WorkerCount       int           `mapstructure:"worker_count"`
	PriceTimeout      time.Duration `mapstructure:"price_timeout"`
	Lease             time.Duration `mapstructure:"lease"`
	CloseInterval     time.Duration `mapstructure:"close_interval"`
	MidInterval       time.Duration `mapstructure:"mid_interval"`
	FarInterval       time.Duration `mapstructure:"far_interval"`
	PastTP1Factor     float64       `mapstructure:"past_tp1_factor"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	FailureBackoff    time.Duration `mapstructure:"failure_backoff"`
	MaxFailureBackoff time.Duration `mapstructure:"max_failure_backoff"`
	StaleWarnAfter    int           `mapstructure:"stale_warn_after"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
}

type DispatcherConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	WorkerCount      int           `mapstructure:"worker_count"`
	QueueSize        int           `mapstructure:"queue_size"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	Multiplier       float64       `mapstructure:"multiplier"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type StatsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Schedule        string        `mapstructure:"schedule"`
	TriggerDebounce time.Duration `mapstructure:"trigger_debounce"`
}

// SignalsConfig holds validation thresholds and the expiry sweep.
type SignalsConfig struct {
	MinRRRatio            float64       `mapstructure:"min_rr_ratio"`
	MaxRRRatio            float64       `mapstructure:"max_rr_ratio"`
	StaleAfter            time.Duration `mapstructure:"stale_after"`
	MaxFutureSkew         time.Duration `mapstructure:"max_future_skew"`
	DuplicateTolerancePct float64       `mapstructure:"duplicate_tolerance_pct"`
	MaxOpenDuration       time.Duration `mapstructure:"max_open_duration"`
	ExpirySchedule        string        `mapstructure:"expiry_schedule"`
	ExpiryBatchSize       int           `mapstructure:"expiry_batch_size"`
}

type PriceFeedsConfig struct {
	Timeout         time.Duration     `mapstructure:"timeout"`
	CacheTTL        time.Duration     `mapstructure:"cache_ttl"`
	BreakerFailures uint32            `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration     `mapstructure:"breaker_timeout"`
	Binance         PriceSourceConfig `mapstructure:"binance"`
	TwelveData      PriceSourceConfig `mapstructure:"twelve_data"`
	Yahoo           PriceSourceConfig `mapstructure:"yahoo"`
}

type PriceSourceConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	BaseURL       string  `mapstructure:"base_url"`
	StreamURL     string  `mapstructure:"stream_url"`
	StreamEnabled bool    `mapstructure:"stream_enabled"`
	APIKey        string  `mapstructure:"api_key"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type EmailConfig struct {
	Provider        string   `mapstructure:"provider"`
	APIKey          string   `mapstructure:"api_key"`
	FromEmail       string   `mapstructure:"from_email"`
	FromName        string   `mapstructure:"from_name"`
	AlertRecipients []string `mapstructure:"alert_recipients"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// Load reads .env, config.yaml and the environment, in increasing priority.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.allowed_origins", []string{"*"})
	viper.SetDefault("server.rate_limit_per_min", 300)
	viper.SetDefault("server.shutdown_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "signal_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)
	viper.SetDefault("database.migrations_path", "migrations")

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("jwt.admin_token_ttl", 3600)

	viper.SetDefault("poller.enabled", true)
	viper.SetDefault("poller.poll_interval", time.Second)
	viper.SetDefault("poller.batch_size", 100)
	viper.SetDefault("poller.worker_count", 8)
	viper.SetDefault("poller.price_timeout", 5*time.Second)
	viper.SetDefault("poller.lease", 30*time.Second)
	viper.SetDefault("poller.close_interval", 5*time.Second)
	viper.SetDefault("poller.mid_interval", 15*time.Second)
	viper.SetDefault("poller.far_interval", 60*time.Second)
	viper.SetDefault("poller.past_tp1_factor", 2.0)
	viper.SetDefault("poller.min_interval", time.Second)
	viper.SetDefault("poller.max_interval", 300*time.Second)
	viper.SetDefault("poller.failure_backoff", 5*time.Second)
	viper.SetDefault("poller.max_failure_backoff", 5*time.Minute)
	viper.SetDefault("poller.stale_warn_after", 5)
	viper.SetDefault("poller.snapshot_interval", time.Minute)

	viper.SetDefault("dispatcher.enabled", true)
	viper.SetDefault("dispatcher.worker_count", 4)
	viper.SetDefault("dispatcher.queue_size", 1000)
	viper.SetDefault("dispatcher.request_timeout", 10*time.Second)
	viper.SetDefault("dispatcher.max_attempts", 3)
	viper.SetDefault("dispatcher.initial_backoff", time.Second)
	viper.SetDefault("dispatcher.max_backoff", 30*time.Second)
	viper.SetDefault("dispatcher.multiplier", 2.0)
	viper.SetDefault("dispatcher.failure_threshold", 10)

	viper.SetDefault("stats.enabled", true)
	viper.SetDefault("stats.schedule", "@every 5m")
	viper.SetDefault("stats.trigger_debounce", 2*time.Second)

	viper.SetDefault("signals.min_rr_ratio", 1.0)
	viper.SetDefault("signals.max_rr_ratio", 10.0)
	viper.SetDefault("signals.stale_after", 300*time.Second)
	viper.SetDefault("signals.max_future_skew", 60*time.Second)
	viper.SetDefault("signals.duplicate_tolerance_pct", 0.1)
	viper.SetDefault("signals.max_open_duration", 7*24*time.Hour)
	viper.SetDefault("signals.expiry_schedule", "@every 10m")
	viper.SetDefault("signals.expiry_batch_size", 200)

	viper.SetDefault("price_feeds.timeout", 5*time.Second)
	viper.SetDefault("price_feeds.cache_ttl", 10*time.Second)
	viper.SetDefault("price_feeds.breaker_failures", 5)
	viper.SetDefault("price_feeds.breaker_timeout", 30*time.Second)
	viper.SetDefault("price_feeds.binance.enabled", true)
	viper.SetDefault("price_feeds.binance.base_url", "https://api.binance.com")
	viper.SetDefault("price_feeds.binance.stream_url", "wss://stream.binance.com:9443/stream")
	viper.SetDefault("price_feeds.binance.stream_enabled", false)
	viper.SetDefault("price_feeds.binance.rate_per_second", 10.0)
	viper.SetDefault("price_feeds.binance.burst", 20)
	viper.SetDefault("price_feeds.twelve_data.enabled", true)
	viper.SetDefault("price_feeds.twelve_data.base_url", "https://api.twelvedata.com")
	viper.SetDefault("price_feeds.twelve_data.rate_per_second", 1.0)
	viper.SetDefault("price_feeds.twelve_data.burst", 8)
	viper.SetDefault("price_feeds.yahoo.enabled", true)
	viper.SetDefault("price_feeds.yahoo.base_url", "https://query1.finance.yahoo.com")
	viper.SetDefault("price_feeds.yahoo.rate_per_second", 2.0)
	viper.SetDefault("price_feeds.yahoo.burst", 5)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.topic", "signal-events")
	viper.SetDefault("kafka.batch_timeout", 100*time.Millisecond)

	viper.SetDefault("email.provider", "")
	viper.SetDefault("email.from_email", "alerts@signal-bridge.dev")
	viper.SetDefault("email.from_name", "Signal Bridge")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.collector_url", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		viper.Set("redis.url", redisURL)
	}
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		viper.Set("jwt.secret", jwtSecret)
	}
	if encKey := os.Getenv("ENCRYPTION_KEY"); encKey != "" {
		viper.Set("security.encryption_key", encKey)
	}
	if tdKey := os.Getenv("TWELVE_DATA_API_KEY"); tdKey != "" {
		viper.Set("price_feeds.twelve_data.api_key", tdKey)
	}
	if sgKey := os.Getenv("SENDGRID_API_KEY"); sgKey != "" {
		viper.Set("email.api_key", sgKey)
		viper.Set("email.provider", "sendgrid")
	}
	if recipients := os.Getenv("ALERT_RECIPIENTS"); recipients != "" {
		viper.Set("email.alert_recipients", splitList(recipients))
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		viper.Set("kafka.brokers", splitList(brokers))
		viper.Set("kafka.enabled", true)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		viper.Set("log_level", level)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		viper.Set("environment", env)
	}
	if collector := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); collector != "" {
		viper.Set("tracing.collector_url", collector)
		viper.Set("tracing.enabled", true)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validate(config *Config) error {
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if config.Security.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}
	if config.Poller.WorkerCount < 1 || config.Poller.BatchSize < 1 {
		return fmt.Errorf("poller worker_count and batch_size must be positive")
	}
	if config.Poller.Lease <= config.Poller.PriceTimeout {
		return fmt.Errorf("poller lease (%s) must exceed price_timeout (%s)", config.Poller.Lease, config.Poller.PriceTimeout)
	}
	if config.Poller.MinInterval <= 0 || config.Poller.MaxInterval < config.Poller.MinInterval {
		return fmt.Errorf("poller interval bounds are invalid")
	}
	if config.Dispatcher.MaxAttempts < 1 {
		return fmt.Errorf("dispatcher max_attempts must be at least 1")
	}
	if config.Dispatcher.FailureThreshold < 1 {
		return fmt.Errorf("dispatcher failure_threshold must be at least 1")
	}
	if config.Kafka.Enabled && len(config.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka is enabled but no brokers are configured")
	}
	return nil
}
