package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string        `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool          `mapstructure:"postgresAutoMigrate"`
		MaxOpenConns        int           `mapstructure:"maxOpenConns"`
		MaxIdleConns        int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime     time.Duration `mapstructure:"connMaxLifetime"`
	} `mapstructure:"database"`
	NATS struct {
		URL             string        `mapstructure:"url"`
		Enabled         bool          `mapstructure:"enabled"`
		ReceiptStream   string        `mapstructure:"receiptStream"`   // JetStream stream receipts are published to
		ReceiptSubject  string        `mapstructure:"receiptSubject"`  // Base subject, e.g. receipts -> receipts.<tenant>.<action>
		ReceiptMaxAge   time.Duration `mapstructure:"receiptMaxAge"`   // Retention of published receipts
		DuplicateWindow time.Duration `mapstructure:"duplicateWindow"` // JetStream Nats-Msg-Id dedup window
	} `mapstructure:"nats"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		LineTTL  time.Duration `mapstructure:"lineTTL"` // Tenant resolver cache TTL; zero disables the cache
	} `mapstructure:"redis"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
		Issuer    string `mapstructure:"issuer"`
	} `mapstructure:"auth"`
	Webhooks struct {
		SignatureHeader string            `mapstructure:"signatureHeader"`
		Secrets         map[string]string `mapstructure:"secrets"` // provider -> shared HMAC secret
	} `mapstructure:"webhooks"`
	Provider struct {
		Name           string        `mapstructure:"name"`
		BaseURL        string        `mapstructure:"baseURL"`
		TokenURL       string        `mapstructure:"tokenURL"`
		ClientID       string        `mapstructure:"clientID"`
		ClientSecret   string        `mapstructure:"clientSecret"`
		Timeout        time.Duration `mapstructure:"timeout"`
		RatePerSecond  float64       `mapstructure:"ratePerSecond"`
		Burst          int           `mapstructure:"burst"`
		StatusCallback string        `mapstructure:"statusCallback"` // Public base URL handed to the provider for callbacks
	} `mapstructure:"provider"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Outbox OutboxConfig `mapstructure:"outbox"`
}

// OutboxConfig holds configuration for the outbox worker loop and its pool
type OutboxConfig struct {
	WorkerID      string        `mapstructure:"workerID"`      // Defaults to hostname + random suffix
	PollInterval  time.Duration `mapstructure:"pollInterval"`  // Time between claim attempts
	BatchSize     int           `mapstructure:"batchSize"`     // Max jobs claimed per poll
	PoolSize      int           `mapstructure:"poolSize"`      // Concurrent job executions
	BaseBackoff   time.Duration `mapstructure:"baseBackoff"`   // First retry delay
	MaxBackoff    time.Duration `mapstructure:"maxBackoff"`    // Retry delay ceiling
	StaleAfter    time.Duration `mapstructure:"staleAfter"`    // Claimed jobs older than this are released
	SweepInterval time.Duration `mapstructure:"sweepInterval"` // How often stale claims are swept
	JobTimeout    time.Duration `mapstructure:"jobTimeout"`    // Per-job execution deadline
	ReceiptPool   int           `mapstructure:"receiptPool"`   // Async receipt writer pool size
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 15*time.Second)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.receiptStream", "comms_receipts")
	v.SetDefault("nats.receiptSubject", "receipts")
	v.SetDefault("nats.receiptMaxAge", 7*24*time.Hour)
	v.SetDefault("nats.duplicateWindow", 2*time.Minute)

	v.SetDefault("redis.lineTTL", 30*time.Second)

	v.SetDefault("webhooks.signatureHeader", "X-Webhook-Signature")

	v.SetDefault("provider.name", "twilio")
	v.SetDefault("provider.timeout", 10*time.Second)
	v.SetDefault("provider.ratePerSecond", 20.0)
	v.SetDefault("provider.burst", 40)

	// Outbox Worker Defaults
	v.SetDefault("outbox.pollInterval", 2*time.Second)
	v.SetDefault("outbox.batchSize", 20)
	v.SetDefault("outbox.poolSize", 10)
	v.SetDefault("outbox.baseBackoff", 5*time.Second)
	v.SetDefault("outbox.maxBackoff", time.Hour)
	v.SetDefault("outbox.staleAfter", 5*time.Minute)
	v.SetDefault("outbox.sweepInterval", time.Minute)
	v.SetDefault("outbox.jobTimeout", 30*time.Second)
	v.SetDefault("outbox.receiptPool", 4)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-comms-pipeline")
	v.AddConfigPath("/etc/daisi-comms-pipeline")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("redis.addr", addr)
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		v.Set("auth.jwtSecret", secret)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := config.Outbox.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// validate rejects a stale sweep that could release jobs still running on
// another worker.
func (o OutboxConfig) validate() error {
	if o.StaleAfter > 0 && o.StaleAfter <= o.JobTimeout {
		return fmt.Errorf("invalid outbox config: staleAfter (%s) must exceed jobTimeout (%s)", o.StaleAfter, o.JobTimeout)
	}
	return nil
}

// WebhookSecret returns the configured secret for provider, or "" when none.
func (c *Config) WebhookSecret(provider string) string {
	if c.Webhooks.Secrets == nil {
		return ""
	}
	return c.Webhooks.Secrets[strings.ToLower(provider)]
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
