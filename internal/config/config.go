package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	StoreDriver     string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultFacility string        `mapstructure:"DEFAULT_FACILITY"`
	AuthMode        string        `mapstructure:"AUTH_MODE"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthPublicKey   string        `mapstructure:"AUTH_PUBLIC_KEY_FILE"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`

	EventSink    string   `mapstructure:"EVENT_SINK"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`
	AMQPURL      string   `mapstructure:"AMQP_URL"`
	AMQPExchange string   `mapstructure:"AMQP_EXCHANGE"`

	S3Bucket          string `mapstructure:"ATTACHMENT_S3_BUCKET"`
	S3Region          string `mapstructure:"ATTACHMENT_S3_REGION"`
	S3Endpoint        string `mapstructure:"ATTACHMENT_S3_ENDPOINT"`
	S3PathStyle       bool   `mapstructure:"ATTACHMENT_S3_PATH_STYLE"`
	S3AccessKeyID     string `mapstructure:"ATTACHMENT_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"ATTACHMENT_S3_SECRET_ACCESS_KEY"`
	AttachmentMaxSize int64  `mapstructure:"ATTACHMENT_MAX_BYTES"`
}

var keys = []string{
	"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"DEFAULT_FACILITY", "AUTH_MODE", "AUTH_SIGNING_KEY", "AUTH_PUBLIC_KEY_FILE",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "REQUEST_TIMEOUT", "REDIS_URL", "IDEMPOTENCY_TTL",
	"EVENT_SINK", "KAFKA_BROKERS", "KAFKA_TOPIC", "AMQP_URL", "AMQP_EXCHANGE",
	"ATTACHMENT_S3_BUCKET", "ATTACHMENT_S3_REGION", "ATTACHMENT_S3_ENDPOINT",
	"ATTACHMENT_S3_PATH_STYLE", "ATTACHMENT_S3_ACCESS_KEY_ID",
	"ATTACHMENT_S3_SECRET_ACCESS_KEY", "ATTACHMENT_MAX_BYTES",
}

// Load reads .env when present, then the environment, and applies defaults.
// It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_FACILITY", "default")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("EVENT_SINK", "log")
	v.SetDefault("KAFKA_TOPIC", "admission-events")
	v.SetDefault("AMQP_EXCHANGE", "admissions")
	v.SetDefault("ATTACHMENT_S3_REGION", "us-east-1")
	v.SetDefault("ATTACHMENT_MAX_BYTES", 10<<20)

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	return cfg, nil
}

// splitList handles comma separated env values, which viper leaves as a
// single element.
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 1 {
		return parsed
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" in
// the development environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is \"postgres\"")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"memory\", got %q", c.StoreDriver)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.Env == "production" {
			return fmt.Errorf("AUTH_MODE \"development\" is not allowed in production")
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthPublicKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_PUBLIC_KEY_FILE is required when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	switch c.EventSink {
	case "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENT_SINK is \"kafka\"")
		}
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENT_SINK is \"amqp\"")
		}
	default:
		return fmt.Errorf("EVENT_SINK must be \"log\", \"kafka\" or \"amqp\", got %q", c.EventSink)
	}

	if c.AttachmentMaxSize <= 0 {
		return fmt.Errorf("ATTACHMENT_MAX_BYTES must be positive")
	}
	if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
		return fmt.Errorf("ATTACHMENT_S3_ACCESS_KEY_ID and ATTACHMENT_S3_SECRET_ACCESS_KEY must be set together")
	}
	return nil
}
