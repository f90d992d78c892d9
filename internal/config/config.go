package config

import (
	"os"
	"strconv"
	"time"

	"kassa/internal/cache"
	"kassa/internal/database"
	"kassa/internal/external"
	"kassa/internal/messaging"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	Orders        OrdersConfig
	Sweep         SweepConfig
	Tickets       TicketsConfig
	Database      database.Config
	NATS          messaging.Config
	Payment       external.PaymentConfig
	Webhook       external.WebhookConfig
	Valkey        cache.Config
	Elasticsearch ElasticsearchConfig
}

// OrdersConfig - параметры жизненного цикла заказа
type OrdersConfig struct {
	TTL         time.Duration
	MaxQuantity int
	MaxRetries  int
}

// SweepConfig - параметры фоновой очистки просроченных заказов
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

type TicketsConfig struct {
	QRSecret string
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,

		Orders: OrdersConfig{
			TTL:         getEnvDuration("ORDER_TTL", 30*time.Minute),
			MaxQuantity: getEnvInt("ORDER_MAX_QUANTITY", 20),
			MaxRetries:  getEnvInt("ORDER_CREATE_MAX_RETRIES", 3),
		},

		Sweep: SweepConfig{
			Interval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			BatchSize: getEnvInt("SWEEP_BATCH_SIZE", 500),
			LeaseTTL:  getEnvDuration("SWEEP_LEASE_TTL", 4*time.Minute),
		},

		Tickets: TicketsConfig{
			QRSecret: getEnv("TICKET_QR_SECRET", "kassa-dev-qr-secret"),
		},

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "kassa"),
			Password:           getEnv("DB_PASSWORD", "kassa"),
			DBName:             getEnv("DB_NAME", "kassa"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "kassa"),
			ClientID:  getEnv("NATS_CLIENT_ID", "kassa-api"),
			Enabled:   getEnvBool("NATS_ENABLED", true),
		},

		Payment: external.PaymentConfig{
			BaseURL:  getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090/payment-provider"),
			TeamSlug: getEnv("PAYMENT_TEAM_SLUG", ""),
			Password: getEnv("PAYMENT_PASSWORD", ""),
			Timeout:  time.Duration(getEnvInt("PAYMENT_TIMEOUT_SEC", 30)) * time.Second,
		},

		Webhook: external.WebhookConfig{
			Secret:    getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			Tolerance: getEnvDuration("PAYMENT_WEBHOOK_TOLERANCE", 5*time.Minute),
		},

		Valkey: cache.Config{
			Addr:         getEnv("VALKEY_ADDR", ""),
			Password:     getEnv("VALKEY_PASSWORD", ""),
			UsersHashKey: getEnv("VALKEY_USERS_HASH_KEY", "users:auth"),
		},

		Elasticsearch: LoadElasticsearchConfig(),
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "30m")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
