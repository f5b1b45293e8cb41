package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Signaling    SignalingConfig
	RTC          RTCConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	AllowedOrigins        string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
	// TicketAPIKeyHash is the bcrypt hash of the key the ticket system
	// presents on /internal routes. Empty disables those routes.
	TicketAPIKeyHash string
}

// SignalingConfig tunes the relay and the call lifecycle.
type SignalingConfig struct {
	ReconnectGrace     time.Duration
	ImplicitRooms      bool
	MaxMessageBytes    int64
	SendBuffer         int
	PingInterval       time.Duration
	PongWait           time.Duration
	WriteTimeout       time.Duration
	CallbackTimeout    time.Duration
	CallbackRetryDelay time.Duration
	// StaleCallSweep is how often initiated call records without a live
	// room are looked for. Zero disables the sweep.
	StaleCallSweep time.Duration
	StaleCallAge   time.Duration
}

// RTCConfig lists the ICE servers handed to browsers.
type RTCConfig struct {
	StunURLs   []string
	TurnURLs   []string
	TurnSecret string
	TurnTTL    time.Duration
}

// NotificationConfig holds call event fan-out targets.
type NotificationConfig struct {
	RedisChannel string
	WebhookURL   string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	grace, err := getEnvAsDuration("SIGNALING_RECONNECT_GRACE", 0)
	if err != nil {
		return nil, err
	}
	ping, err := getEnvAsDuration("SIGNALING_PING_INTERVAL", 25*time.Second)
	if err != nil {
		return nil, err
	}
	pong, err := getEnvAsDuration("SIGNALING_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	if ping >= pong {
		return nil, fmt.Errorf("SIGNALING_PING_INTERVAL (%s) must be shorter than SIGNALING_PONG_WAIT (%s)", ping, pong)
	}
	writeTimeout, err := getEnvAsDuration("SIGNALING_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cbTimeout, err := getEnvAsDuration("SIGNALING_CALLBACK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cbRetry, err := getEnvAsDuration("SIGNALING_CALLBACK_RETRY_DELAY", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	sweep, err := getEnvAsDuration("SIGNALING_STALE_CALL_SWEEP", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	staleAge, err := getEnvAsDuration("SIGNALING_STALE_CALL_AGE", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	turnTTL, err := getEnvAsDuration("RTC_TURN_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "call-signaling"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			AllowedOrigins:        getEnv("APP_ALLOWED_ORIGINS", "*"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:        getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes:  getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
			TicketAPIKeyHash: os.Getenv("AUTH_TICKET_API_KEY_HASH"),
		},
		Signaling: SignalingConfig{
			ReconnectGrace:     grace,
			ImplicitRooms:      getEnvAsBool("SIGNALING_IMPLICIT_ROOMS", false),
			MaxMessageBytes:    int64(getEnvAsInt("SIGNALING_MAX_MESSAGE_BYTES", 64*1024)),
			SendBuffer:         getEnvAsInt("SIGNALING_SEND_BUFFER", 64),
			PingInterval:       ping,
			PongWait:           pong,
			WriteTimeout:       writeTimeout,
			CallbackTimeout:    cbTimeout,
			CallbackRetryDelay: cbRetry,
			StaleCallSweep:     sweep,
			StaleCallAge:       staleAge,
		},
		RTC: RTCConfig{
			StunURLs:   getEnvAsList("RTC_STUN_URLS", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"}),
			TurnURLs:   getEnvAsList("RTC_TURN_URLS", nil),
			TurnSecret: os.Getenv("RTC_TURN_SECRET"),
			TurnTTL:    turnTTL,
		},
		Notification: NotificationConfig{
			RedisChannel: getEnv("NOTIFY_REDIS_CHANNEL", "calls.events"),
			WebhookURL:   getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return parsed, nil
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
