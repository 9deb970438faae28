package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Stripe   StripeConfig
}

type AppConfig struct {
	Env         string // "development" or "production"
	BaseURL     string // public origin embedded into QR menu URLs
	TaxRate     decimal.Decimal
	DevQRSecret string
}

func (a AppConfig) Production() bool { return a.Env == "production" }

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AutoClosePaid bool
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "development"
	}

	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	taxRateStr := os.Getenv("TAX_RATE")
	if taxRateStr == "" {
		taxRateStr = "0.10"
	}

	taxRate, err := decimal.NewFromString(taxRateStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid TAX_RATE: %w", op, err)
	}

	devQRSecret := os.Getenv("DEV_QR_SECRET")
	if devQRSecret == "" {
		devQRSecret = "dev-secret-change-in-production"
	}

	appCfg := AppConfig{
		Env:         appEnv,
		BaseURL:     baseURL,
		TaxRate:     taxRate,
		DevQRSecret: devQRSecret,
	}

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	stripeKey := os.Getenv("STRIPE_API_KEY")
	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if appCfg.Production() && (stripeKey == "" || stripeWebhookSecret == "") {
		return nil, fmt.Errorf("%s: missing STRIPE_API_KEY or STRIPE_WEBHOOK_SECRET", op)
	}

	autoClose := true
	if v := os.Getenv("PAYMENT_AUTO_CLOSE"); v != "" {
		autoClose, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid PAYMENT_AUTO_CLOSE: %w", op, err)
		}
	}

	stripeCfg := StripeConfig{
		APIKey:        stripeKey,
		WebhookSecret: stripeWebhookSecret,
		AutoClosePaid: autoClose,
	}

	return &Config{
		App:      appCfg,
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Stripe:   stripeCfg,
	}, nil
}
