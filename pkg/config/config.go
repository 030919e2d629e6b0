// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// DefaultFrontendURL — адрес фронтенда, если FRONTEND_URL не задан.
const DefaultFrontendURL = "http://localhost:5173"

// Транспорты уведомлений.
const (
	NotifyTransportKafka = "kafka"
	NotifyTransportSNS   = "sns"
)

// Config содержит полную конфигурацию Payment Service.
type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	MySQL    MySQLConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stripe   StripeConfig
	Frontend FrontendConfig
	Notify   NotifyConfig
	Dispatch DispatchConfig
	Jaeger   JaegerConfig
	Metrics  MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"payment-service"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — настройки HTTP сервера (webhook + ручное подтверждение).
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Лимит ручных подтверждений с одного IP (0 - без лимита)
	ConfirmRateLimit  int           `env:"HTTP_CONFIRM_RATE_LIMIT" envDefault:"30"`
	ConfirmRateWindow time.Duration `env:"HTTP_CONFIRM_RATE_WINDOW" envDefault:"1m"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"shop"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
// Через Kafka уходят outbox, аналитика и письма (при NOTIFY_TRANSPORT=kafka).
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS,notEmpty" envDefault:"localhost:9092" envSeparator:","`
}

// StripeConfig содержит ключи Stripe.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required,notEmpty"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required,notEmpty"`
}

// FrontendConfig — адрес фронтенда для ссылок в письмах.
type FrontendConfig struct {
	URL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
}

// BaseURL возвращает адрес без завершающего слэша, с запасным значением по умолчанию.
func (c FrontendConfig) BaseURL() string {
	u := strings.TrimRight(strings.TrimSpace(c.URL), "/")
	if u == "" {
		return DefaultFrontendURL
	}
	return u
}

// NotifyConfig — выбор транспорта для писем клиенту.
type NotifyConfig struct {
	Transport   string `env:"NOTIFY_TRANSPORT" envDefault:"kafka"`
	SNSTopicARN string `env:"NOTIFY_SNS_TOPIC_ARN"`
}

// DispatchConfig — настройки исполнителя фоновых задач после оплаты.
type DispatchConfig struct {
	MaxConcurrent int           `env:"DISPATCH_MAX_CONCURRENT" envDefault:"32"`
	DrainTimeout  time.Duration `env:"DISPATCH_DRAIN_TIMEOUT" envDefault:"15s"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	return parse()
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	switch cfg.Notify.Transport {
	case NotifyTransportKafka:
	case NotifyTransportSNS:
		if cfg.Notify.SNSTopicARN == "" {
			return nil, fmt.Errorf("NOTIFY_SNS_TOPIC_ARN обязателен для транспорта %q", NotifyTransportSNS)
		}
	default:
		return nil, fmt.Errorf("неизвестный транспорт уведомлений: %q", cfg.Notify.Transport)
	}

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
