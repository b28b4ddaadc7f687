package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server reads from the environment.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// StorageDriver is "postgres" or "memory".
	StorageDriver string

	ServerPort  string
	CORSOrigins []string

	HTTPTimeout    time.Duration
	HTTPMaxRetries int
	HTTPRetryDelay time.Duration
	// HTTPBackoff is "fixed" or "exponential".
	HTTPBackoff       string
	LogRedact         bool
	TokenExpiryMargin time.Duration

	PaymentMaxRetries  int
	StatusPollInterval time.Duration
	StatusPollMinAge   time.Duration

	ZRABaseURL       string
	ZRAAPIKey        string
	ZRASellerTPIN    string
	ZRABranchID      string
	ZRAMaxAttempts   int
	ZRAMinRetryDelay time.Duration

	ProvidersFile string

	AMQPURL      string
	MailQueue    string
	KafkaBrokers []string
	KafkaTopic   string
	WorkerCount  int
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "postgres"),
		DBPassword:    getEnv("DB_PASSWORD", "postgres"),
		DBName:        getEnv("DB_NAME", "payments"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		StorageDriver: getEnv("STORAGE_DRIVER", "postgres"),

		ServerPort:  getEnv("SERVER_PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		HTTPTimeout:       time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 30)) * time.Second,
		HTTPMaxRetries:    getEnvInt("HTTP_MAX_RETRIES", 3),
		HTTPRetryDelay:    time.Duration(getEnvInt("HTTP_RETRY_DELAY_MS", 1000)) * time.Millisecond,
		HTTPBackoff:       getEnv("HTTP_BACKOFF", "exponential"),
		LogRedact:         getEnvBool("LOG_REDACT", true),
		TokenExpiryMargin: getEnvDuration("TOKEN_EXPIRY_MARGIN", 60*time.Second),

		PaymentMaxRetries:  getEnvInt("PAYMENT_MAX_RETRIES", 3),
		StatusPollInterval: getEnvDuration("STATUS_POLL_INTERVAL", time.Minute),
		StatusPollMinAge:   getEnvDuration("STATUS_POLL_MIN_AGE", 2*time.Minute),

		ZRABaseURL:       getEnv("ZRA_BASE_URL", ""),
		ZRAAPIKey:        getEnv("ZRA_API_KEY", ""),
		ZRASellerTPIN:    getEnv("ZRA_SELLER_TPIN", ""),
		ZRABranchID:      getEnv("ZRA_BRANCH_ID", "000"),
		ZRAMaxAttempts:   getEnvInt("ZRA_MAX_ATTEMPTS", 3),
		ZRAMinRetryDelay: getEnvDuration("ZRA_MIN_RETRY_DELAY", 5*time.Minute),

		ProvidersFile: getEnv("PROVIDERS_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		MailQueue:    getEnv("MAIL_QUEUE", "payments.mail"),
		KafkaBrokers: getEnvList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "payments.events"),
		WorkerCount:  getEnvInt("WORKER_COUNT", 4),
	}
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// UsesMemoryStore reports whether the server should run without Postgres.
func (c *Config) UsesMemoryStore() bool {
	return strings.EqualFold(c.StorageDriver, "memory")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
