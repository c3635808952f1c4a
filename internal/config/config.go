package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Payment   PaymentConfig
	Order     OrderConfig
	Sweeper   SweeperConfig
	Outbox    OutboxConfig
	Artifacts ArtifactsConfig
	SMTP      SMTPConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// PublicURL is how clients and providers reach this server.
	PublicURL string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type PostgresConfig struct {
	User        string
	Password    string
	Name        string
	Host        string
	Port        int
	SSLMode     string
	MaxConns    int32
	AutoMigrate bool
}

// DSN builds the connection URL used by pgx and migrate.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSLMode,
	)
}

// KafkaConfig is optional; without brokers the outbox relay does not run.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type PaymentConfig struct {
	Mode                string
	Currency            string
	AdminFee            decimal.Decimal
	InvoiceDuration     time.Duration
	SuccessURL          string
	CancelURL           string
	StripeSecretKey     string
	StripeWebhookSecret string
	BreakerFailures     int
	BreakerCooldown     time.Duration
}

type OrderConfig struct {
	TTL         time.Duration
	MaxQuantity int
	// RateLimit is the number of orders a buyer may create per RateWindow.
	RateLimit  int
	RateWindow time.Duration
	// IdempotencyTTL is how long Idempotency-Key responses are replayed.
	IdempotencyTTL  time.Duration
	AvailabilityTTL time.Duration
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

type ArtifactsConfig struct {
	Dir      string
	FontPath string
}

// SMTPConfig is optional; without a host mail is written to the log.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

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

	publicURL := os.Getenv("APP_URL")
	if publicURL == "" {
		publicURL = fmt.Sprintf("http://%s:%d", serverHost, serverPort)
	}

	serverCfg := ServerConfig{
		Host:      serverHost,
		Port:      serverPort,
		PublicURL: strings.TrimRight(publicURL, "/"),
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

	maxConns, err := intEnv("POSTGRES_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	autoMigrate, err := boolEnv("POSTGRES_AUTO_MIGRATE", true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	postgresCfg := PostgresConfig{
		User:        postgresUser,
		Password:    postgresPassword,
		Name:        postgresDB,
		Host:        postgresHost,
		Port:        postgresPort,
		SSLMode:     postgresSSLMode,
		MaxConns:    int32(maxConns),
		AutoMigrate: autoMigrate,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// 0 keeps the go-redis default of 10 per CPU.
	redisPool, err := intEnv("REDIS_POOL_SIZE", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
		PoolSize: redisPool,
	}

	var brokers []string
	for _, b := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}

	kafkaCfg := KafkaConfig{
		Brokers: brokers,
		Topic:   stringEnv("KAFKA_TOPIC", "tixcheckout.orders"),
	}

	paymentCfg, err := paymentConfig(serverCfg.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	orderCfg := OrderConfig{}
	if orderCfg.TTL, err = durationEnv("ORDER_TTL", time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orderCfg.MaxQuantity, err = intEnv("ORDER_MAX_QUANTITY", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orderCfg.RateLimit, err = intEnv("ORDER_RATE_LIMIT", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orderCfg.RateWindow, err = durationEnv("ORDER_RATE_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orderCfg.IdempotencyTTL, err = durationEnv("ORDER_IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if orderCfg.AvailabilityTTL, err = durationEnv("AVAILABILITY_CACHE_TTL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sweeperCfg := SweeperConfig{}
	if sweeperCfg.Interval, err = durationEnv("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sweeperCfg.BatchSize, err = intEnv("SWEEPER_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	outboxCfg := OutboxConfig{}
	if outboxCfg.Interval, err = durationEnv("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if outboxCfg.BatchSize, err = intEnv("OUTBOX_BATCH_SIZE", 100); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if outboxCfg.MaxAttempts, err = intEnv("OUTBOX_MAX_ATTEMPTS", 10); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	smtpPort, err := intEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	smtpCfg := SMTPConfig{
		Host:     os.Getenv("SMTP_HOST"),
		Port:     smtpPort,
		Username: os.Getenv("SMTP_USERNAME"),
		Password: os.Getenv("SMTP_PASSWORD"),
		From:     stringEnv("SMTP_FROM", "tickets@localhost"),
		FromName: os.Getenv("SMTP_FROM_NAME"),
	}

	return &Config{
		Server:   serverCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Kafka:    kafkaCfg,
		Payment:  paymentCfg,
		Order:    orderCfg,
		Sweeper:  sweeperCfg,
		Outbox:   outboxCfg,
		Artifacts: ArtifactsConfig{
			Dir:      stringEnv("ARTIFACTS_DIR", "./artifacts"),
			FontPath: os.Getenv("ARTIFACTS_FONT_PATH"),
		},
		SMTP: smtpCfg,
		Auth: AuthConfig{JWTSecret: os.Getenv("AUTH_JWT_SECRET")},
		Log: LogConfig{
			Level:  stringEnv("LOG_LEVEL", "info"),
			Format: stringEnv("LOG_FORMAT", "text"),
		},
	}, nil
}

func paymentConfig(publicURL string) (PaymentConfig, error) {
	cfg := PaymentConfig{
		Mode:                strings.ToLower(stringEnv("PAYMENT_MODE", "mock")),
		Currency:            stringEnv("PAYMENT_CURRENCY", "idr"),
		SuccessURL:          stringEnv("PAYMENT_SUCCESS_URL", publicURL+"/payments/success"),
		CancelURL:           stringEnv("PAYMENT_CANCEL_URL", publicURL+"/payments/cancel"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
	}

	fee, err := decimal.NewFromString(stringEnv("PAYMENT_ADMIN_FEE", "5000"))
	if err != nil {
		return cfg, fmt.Errorf("invalid PAYMENT_ADMIN_FEE: %w", err)
	}
	cfg.AdminFee = fee

	if cfg.InvoiceDuration, err = durationEnv("PAYMENT_INVOICE_DURATION", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.BreakerFailures, err = intEnv("PAYMENT_BREAKER_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerCooldown, err = durationEnv("PAYMENT_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return cfg, err
	}

	if cfg.Mode == "stripe" && (cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "") {
		return cfg, fmt.Errorf("missing STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET")
	}

	return cfg, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
