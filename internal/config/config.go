package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Config struct {
	Env            string
	ServiceName    string
	ServiceVersion string
	HTTPAddr       string
	PostgresURL    string
	MigrationsPath string
	RedisAddr      string
	KafkaBrokers   []string
	OTLPEndpoint   string

	NotificationTopic      string
	NotificationServiceURL string

	OrdersServiceURL string
	InboxServiceURL  string

	Orders OrdersConfig

	SweepInterval  time.Duration
	SweepBatch     int
	SweeperEnabled bool

	MockPaymentsEnabled bool
	StripeWebhookSecret string

	LogisticsProviderURL   string
	LogisticsProviderKey   string
	LogisticsFetchThrottle time.Duration

	Business domain.BusinessParams
}

// OrdersConfig holds the checkout windows and limits.
type OrdersConfig struct {
	PaymentWindow   time.Duration
	DuplicateWindow time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	l := &loader{}
	cfg := Config{
		Env:            getenv("ENV", "production"),
		ServiceName:    getenv("SERVICE_NAME", "beadflow-orders"),
		ServiceVersion: getenv("SERVICE_VERSION", "0.1.0"),
		HTTPAddr:       getenv("HTTP_ADDR", ":8081"),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		MigrationsPath: getenv("MIGRATIONS_PATH", "file://migrations"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		OTLPEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		NotificationTopic:      getenv("NOTIFICATION_TOPIC", "order.notifications"),
		NotificationServiceURL: os.Getenv("NOTIFICATION_SERVICE_URL"),

		OrdersServiceURL: os.Getenv("ORDERS_SERVICE_URL"),
		InboxServiceURL:  os.Getenv("INBOX_SERVICE_URL"),

		Orders: OrdersConfig{
			PaymentWindow:   l.duration("ORDER_PAYMENT_WINDOW", 30*time.Minute),
			DuplicateWindow: l.duration("ORDER_DUPLICATE_WINDOW", 30*time.Second),
			RateLimitWindow: l.duration("ORDER_RATE_LIMIT_WINDOW", 60*time.Second),
			RateLimitMax:    l.integer("ORDER_RATE_LIMIT_MAX", 5),
		},

		SweepInterval:  l.duration("SWEEP_INTERVAL", 60*time.Second),
		SweepBatch:     l.integer("SWEEP_BATCH", 100),
		SweeperEnabled: l.boolean("SWEEPER_ENABLED", true),

		MockPaymentsEnabled: l.boolean("MOCK_PAYMENTS_ENABLED", false),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		LogisticsProviderURL:   os.Getenv("LOGISTICS_PROVIDER_URL"),
		LogisticsProviderKey:   os.Getenv("LOGISTICS_PROVIDER_KEY"),
		LogisticsFetchThrottle: l.duration("LOGISTICS_FETCH_THROTTLE", 2*time.Minute),

		Business: domain.BusinessParams{
			RuleVersion:           getenv("PRICING_RULE_VERSION", "2024-01"),
			HandworkFee:           l.money("HANDWORK_FEE", "3"),
			FreeShippingThreshold: l.money("FREE_SHIPPING_THRESHOLD", "99"),
			BaseShippingFee:       l.money("BASE_SHIPPING_FEE", "10"),
			PointValue:            l.money("POINT_VALUE", "0.01"),
			PointsEarnRate:        l.money("POINTS_EARN_RATE", "1"),
			CommissionRate:        l.money("COMMISSION_RATE", "0.05"),
			AffiliateEnabled:      l.boolean("AFFILIATE_ENABLED", false),
		},
	}

	if l.err != nil {
		return Config{}, l.err
	}
	if cfg.Orders.RateLimitMax <= 0 {
		return Config{}, fmt.Errorf("ORDER_RATE_LIMIT_MAX must be positive")
	}
	return cfg, nil
}

// Development reports whether human readable logs are wanted.
func (c Config) Development() bool {
	return c.Env == "development"
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// loader keeps the first parse error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) fail(k string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("config %s: %w", k, err)
	}
}

func (l *loader) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(k, err)
		return def
	}
	return d
}

func (l *loader) integer(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(k, err)
		return def
	}
	return n
}

func (l *loader) boolean(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(k, err)
		return def
	}
	return b
}

func (l *loader) money(k, def string) decimal.Decimal {
	v := getenv(k, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		l.fail(k, err)
		return decimal.RequireFromString(def)
	}
	return d
}
