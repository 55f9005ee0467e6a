package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/axshowk/winvestco-trading-platform-sub001/libs/config"
	"github.com/axshowk/winvestco-trading-platform-sub001/services/funds/internal/events"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type DBConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	BalanceTTL      time.Duration
	ProcessedTTL    time.Duration
	AllowNoRedisDev bool
}

type KafkaTopics struct {
	OrderValidated string
	OrderCancelled string
	TradeFailed    string
	TradeExecuted  string
	PaymentSuccess string
	UserCreated    string
	DeadLetter     string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
	RetryAttempts int
	RetryBackoff  time.Duration
}

type OutboxConfig struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

type AuthConfig struct {
	JWTSecret string
}

type Config struct {
	App      base.AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Outbox   OutboxConfig
	Routes   events.Routes
	Currency string
	Auth     AuthConfig
}

func Load() (*Config, error) {
	path := os.Getenv("CEX_CONFIG")
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	setDefaults(v)

	routes, err := loadRoutes(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Driver:   strings.ToLower(envString("FUNDS_STORAGE", v.GetString("storage.driver"))),
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "funds"),
			User:     envString("POSTGRES_USER", "cex"),
			Password: envString("POSTGRES_PASSWORD", "cex"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:            envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password:        envString("REDIS_PASSWORD", ""),
			DB:              envInt("REDIS_DB", v.GetInt("redis.db")),
			BalanceTTL:      envDuration("BALANCE_CACHE_TTL", v.GetDuration("redis.balance_ttl")),
			ProcessedTTL:    envDuration("PROCESSED_CACHE_TTL", v.GetDuration("redis.processed_ttl")),
			AllowNoRedisDev: appCfg.Env == "dev",
		},
		Kafka: KafkaConfig{
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			Topics: KafkaTopics{
				OrderValidated: envString("KAFKA_ORDER_VALIDATED_TOPIC", v.GetString("kafka.topics.order_validated")),
				OrderCancelled: envString("KAFKA_ORDER_CANCELLED_TOPIC", v.GetString("kafka.topics.order_cancelled")),
				TradeFailed:    envString("KAFKA_TRADE_FAILED_TOPIC", v.GetString("kafka.topics.trade_failed")),
				TradeExecuted:  envString("KAFKA_TRADE_EXECUTED_TOPIC", v.GetString("kafka.topics.trade_executed")),
				PaymentSuccess: envString("KAFKA_PAYMENT_SUCCESS_TOPIC", v.GetString("kafka.topics.payment_success")),
				UserCreated:    envString("KAFKA_USER_CREATED_TOPIC", v.GetString("kafka.topics.user_created")),
				DeadLetter:     envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
			RetryAttempts: envInt("KAFKA_RETRY_ATTEMPTS", v.GetInt("kafka.retry.max_attempts")),
			RetryBackoff:  envDuration("KAFKA_RETRY_BACKOFF", v.GetDuration("kafka.retry.backoff")),
		},
		Outbox: OutboxConfig{
			BatchSize:   envInt("OUTBOX_BATCH_SIZE", v.GetInt("outbox.batch_size")),
			Interval:    envDuration("OUTBOX_INTERVAL", v.GetDuration("outbox.interval")),
			MaxAttempts: envInt("OUTBOX_MAX_ATTEMPTS", v.GetInt("outbox.max_attempts")),
		},
		Routes:   routes,
		Currency: strings.ToUpper(envString("FUNDS_CURRENCY", v.GetString("currency"))),
		Auth: AuthConfig{
			JWTSecret: envString("JWT_SECRET", v.GetString("auth.jwt_secret")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("storage.driver must be %s or %s", StoragePostgres, StorageMemory)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers required")
	}
	if c.Kafka.ConsumerGroup == "" {
		return fmt.Errorf("kafka consumer group required")
	}
	if c.Kafka.Topics.DeadLetter == "" {
		return fmt.Errorf("kafka dead letter topic required")
	}
	if c.Kafka.RetryAttempts <= 0 {
		return fmt.Errorf("kafka retry max_attempts must be positive")
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox batch_size and max_attempts must be positive")
	}
	if c.Outbox.Interval <= 0 {
		return fmt.Errorf("outbox interval must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a three letter code")
	}
	return c.Routes.Validate()
}

// DSN builds the pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(base.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", StoragePostgres)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.balance_ttl", "30s")
	v.SetDefault("redis.processed_ttl", "24h")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "funds-service")
	v.SetDefault("kafka.topics.order_validated", "order.validated")
	v.SetDefault("kafka.topics.order_cancelled", "order.cancelled")
	v.SetDefault("kafka.topics.trade_failed", "trade.failed")
	v.SetDefault("kafka.topics.trade_executed", "trade.executed")
	v.SetDefault("kafka.topics.payment_success", "payment.success")
	v.SetDefault("kafka.topics.user_created", "user.created")
	v.SetDefault("kafka.topics.dead_letter", "funds.dlq")
	v.SetDefault("kafka.retry.max_attempts", 5)
	v.SetDefault("kafka.retry.backoff", "500ms")
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.interval", "5s")
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("currency", "INR")
	v.SetDefault("auth.jwt_secret", "")
}

// loadRoutes overlays configured routes on the defaults; an override may change
// either half of a route.
func loadRoutes(v *viper.Viper) (events.Routes, error) {
	routes := events.DefaultRoutes()
	var overrides map[string]events.Route
	if err := v.UnmarshalKey("routes", &overrides); err != nil {
		return nil, fmt.Errorf("unmarshal routes: %w", err)
	}
	for eventType, override := range overrides {
		key := canonicalEventType(eventType)
		route := routes[key]
		if override.Exchange != "" {
			route.Exchange = override.Exchange
		}
		if override.RoutingKey != "" {
			route.RoutingKey = override.RoutingKey
		}
		routes[key] = route
	}
	return routes, nil
}

// canonicalEventType maps a config key, which viper lowercases, back to its event type.
func canonicalEventType(key string) string {
	for eventType := range events.DefaultRoutes() {
		if strings.EqualFold(eventType, key) {
			return eventType
		}
	}
	return key
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
