package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yashrajoria/relab-checkout/database"
	"github.com/yashrajoria/relab-checkout/gateway"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
)

type Config struct {
	Port   string
	AppEnv string

	Postgres database.PostgresConfig

	RedisURL       string
	IdempotencyTTL time.Duration

	KafkaBrokers         []string
	OrderEventsTopic     string
	SNSTopicArn          string
	NotificationQueueURL string

	PaymentProvider          string
	MercadoPagoAccessToken   string
	MercadoPagoWebhookSecret string
	MercadoPagoBaseURL       string
	StripeSecretKey          string
	StripeWebhookSecret      string
	PaymentCurrency          string
	SiteURL                  string
	GatewayTimeout           time.Duration

	ShippingFee int64

	JWTSecret           string
	TrustGatewayHeaders bool

	RateLimitRPS   float64
	RateLimitBurst int

	CloudWatchEnabled bool
	UseSecrets        bool
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:   getEnv("PORT", "8085"),
		AppEnv: getEnv("APP_ENV", "development"),
		Postgres: database.PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       os.Getenv("POSTGRES_DB"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "America/Sao_Paulo"),
		},
		RedisURL:                 os.Getenv("REDIS_URL"),
		IdempotencyTTL:           getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		KafkaBrokers:             splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic:         getEnv("ORDER_EVENTS_TOPIC", "order.events"),
		SNSTopicArn:              os.Getenv("SNS_ORDER_EVENTS_TOPIC_ARN"),
		NotificationQueueURL:     os.Getenv("NOTIFICATION_QUEUE_URL"),
		PaymentProvider:          strings.ToLower(getEnv("PAYMENT_PROVIDER", gateway.ProviderMercadoPago)),
		MercadoPagoAccessToken:   os.Getenv("MERCADO_PAGO_ACCESS_TOKEN"),
		MercadoPagoWebhookSecret: os.Getenv("MERCADO_PAGO_WEBHOOK_SECRET"),
		MercadoPagoBaseURL:       os.Getenv("MERCADO_PAGO_BASE_URL"),
		StripeSecretKey:          os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:      os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentCurrency:          getEnv("PAYMENT_CURRENCY", "BRL"),
		SiteURL:                  getEnv("SITE_URL", "http://localhost:3000"),
		GatewayTimeout:           getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		ShippingFee:              getInt64("CHECKOUT_SHIPPING_FEE", 0),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		TrustGatewayHeaders:      os.Getenv("TRUST_GATEWAY_HEADERS") == "true",
		RateLimitRPS:             getFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:           int(getInt64("RATE_LIMIT_BURST", 40)),
		CloudWatchEnabled:        os.Getenv("CLOUDWATCH_ENABLED") == "true",
		UseSecrets:               os.Getenv("AWS_USE_SECRETS") == "true",
	}

	if cfg.UseSecrets {
		if awsCfg, err := awspkg.LoadAWSConfig(context.Background()); err == nil {
			cfg.applySecrets(context.Background(), awspkg.NewSecretsClient(awsCfg))
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type secretMapReader interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// applySecrets overrides credentials with Secrets Manager values. Missing
// secrets leave the environment values in place.
func (c *Config) applySecrets(ctx context.Context, sm secretMapReader) {
	if m, err := sm.GetSecretMap(ctx, "checkout/DB_CREDENTIALS"); err == nil {
		override(&c.Postgres.User, m, "POSTGRES_USER")
		override(&c.Postgres.Password, m, "POSTGRES_PASSWORD")
		override(&c.Postgres.DB, m, "POSTGRES_DB")
		override(&c.Postgres.Host, m, "POSTGRES_HOST")
		override(&c.Postgres.Port, m, "POSTGRES_PORT")
	}
	if m, err := sm.GetSecretMap(ctx, "checkout/PAYMENT_SECRETS"); err == nil {
		override(&c.MercadoPagoAccessToken, m, "MERCADO_PAGO_ACCESS_TOKEN")
		override(&c.MercadoPagoWebhookSecret, m, "MERCADO_PAGO_WEBHOOK_SECRET")
		override(&c.StripeSecretKey, m, "STRIPE_SECRET_KEY")
		override(&c.StripeWebhookSecret, m, "STRIPE_WEBHOOK_SECRET")
		override(&c.JWTSecret, m, "JWT_SECRET")
	}
}

func (c *Config) validate() error {
	p := c.Postgres
	if p.User == "" || p.Password == "" || p.DB == "" || p.Host == "" {
		return fmt.Errorf("database config incomplete")
	}
	switch c.PaymentProvider {
	case gateway.ProviderMercadoPago:
		if c.MercadoPagoAccessToken == "" {
			return fmt.Errorf("MERCADO_PAGO_ACCESS_TOKEN is required")
		}
	case gateway.ProviderStripe:
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if c.ShippingFee < 0 {
		return fmt.Errorf("CHECKOUT_SHIPPING_FEE must not be negative")
	}
	return nil
}

func override(dst *string, m map[string]string, key string) {
	if v, ok := m[key]; ok && v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
