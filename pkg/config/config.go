package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Metrics       MetricsConfig
	Queue         QueueConfig
	Notifications NotificationConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// QueueConfig tunes the patient queue scheduler.
type QueueConfig struct {
	BoostIncrement         int
	HistoryWindow          time.Duration
	FallbackServiceMinutes float64
	AverageCacheTTL        time.Duration
	RescanInterval         time.Duration
	RankRetryAttempts      int
	RankRetryBackoff       time.Duration
	SubscriberBuffer       int
	RedisFanout            bool
	WebSocketPongWait      time.Duration
	WebSocketPingPeriod    time.Duration
	Weights                UrgencyWeights
}

// UrgencyWeights holds the base score per urgency level.
type UrgencyWeights struct {
	Low      int
	Medium   int
	High     int
	Critical int
}

// NotificationConfig sizes the outbound notification worker pool.
type NotificationConfig struct {
	Enabled    bool
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
		Path:    v.GetString("METRICS_PATH"),
	}

	fallback := v.GetFloat64("QUEUE_FALLBACK_SERVICE_MINUTES")
	if fallback <= 0 {
		fallback = 30
	}
	cfg.Queue = QueueConfig{
		BoostIncrement:         v.GetInt("QUEUE_BOOST_INCREMENT"),
		HistoryWindow:          parseDuration(v.GetString("QUEUE_HISTORY_WINDOW"), 7*24*time.Hour),
		FallbackServiceMinutes: fallback,
		AverageCacheTTL:        parseDuration(v.GetString("QUEUE_AVERAGE_CACHE_TTL"), 5*time.Minute),
		RescanInterval:         parseDuration(v.GetString("QUEUE_RESCAN_INTERVAL"), 0),
		RankRetryAttempts:      v.GetInt("QUEUE_RANK_RETRY_ATTEMPTS"),
		RankRetryBackoff:       parseDuration(v.GetString("QUEUE_RANK_RETRY_BACKOFF"), 25*time.Millisecond),
		SubscriberBuffer:       v.GetInt("QUEUE_SUBSCRIBER_BUFFER"),
		RedisFanout:            v.GetBool("QUEUE_REDIS_FANOUT"),
		WebSocketPongWait:      parseDuration(v.GetString("QUEUE_WS_PONG_WAIT"), 60*time.Second),
		WebSocketPingPeriod:    parseDuration(v.GetString("QUEUE_WS_PING_PERIOD"), 54*time.Second),
		Weights: UrgencyWeights{
			Low:      v.GetInt("QUEUE_WEIGHT_LOW"),
			Medium:   v.GetInt("QUEUE_WEIGHT_MEDIUM"),
			High:     v.GetInt("QUEUE_WEIGHT_HIGH"),
			Critical: v.GetInt("QUEUE_WEIGHT_CRITICAL"),
		},
	}

	cfg.Notifications = NotificationConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		Workers:    v.GetInt("NOTIFICATION_WORKERS"),
		MaxRetries: v.GetInt("NOTIFICATION_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("NOTIFICATION_RETRY_DELAY"), time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "clinic_queue")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "clinic-queue-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_METRICS", true)
	v.SetDefault("METRICS_PATH", "/metrics")

	v.SetDefault("QUEUE_BOOST_INCREMENT", 50)
	v.SetDefault("QUEUE_HISTORY_WINDOW", "168h")
	v.SetDefault("QUEUE_FALLBACK_SERVICE_MINUTES", 30)
	v.SetDefault("QUEUE_AVERAGE_CACHE_TTL", "5m")
	v.SetDefault("QUEUE_RESCAN_INTERVAL", "0s")
	v.SetDefault("QUEUE_RANK_RETRY_ATTEMPTS", 3)
	v.SetDefault("QUEUE_RANK_RETRY_BACKOFF", "25ms")
	v.SetDefault("QUEUE_SUBSCRIBER_BUFFER", 8)
	v.SetDefault("QUEUE_REDIS_FANOUT", false)
	v.SetDefault("QUEUE_WS_PONG_WAIT", "60s")
	v.SetDefault("QUEUE_WS_PING_PERIOD", "54s")
	v.SetDefault("QUEUE_WEIGHT_LOW", 25)
	v.SetDefault("QUEUE_WEIGHT_MEDIUM", 50)
	v.SetDefault("QUEUE_WEIGHT_HIGH", 75)
	v.SetDefault("QUEUE_WEIGHT_CRITICAL", 100)

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATION_WORKERS", 2)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 3)
	v.SetDefault("NOTIFICATION_RETRY_DELAY", "1s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
