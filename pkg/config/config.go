package config

import (
	"errors"
	"fmt"
	"strconv"
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

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Log      LogConfig
	Throttle ThrottleConfig
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
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig holds the token issuance parameters. The secret and both TTLs
// are immutable after Load and shared read-only across request handlers.
type AuthConfig struct {
	Secret          string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	Issuer          string
	CleanupInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ThrottleConfig governs the redis-backed login attempt limiter.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

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
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	accessTTL, err := ParseTTL(v.GetString("ACCESS_TOKEN_TTL"))
	if err != nil {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL: %w", err)
	}
	refreshTTL, err := ParseTTL(v.GetString("REFRESH_TOKEN_TTL"))
	if err != nil {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL: %w", err)
	}
	if refreshTTL <= accessTTL {
		return nil, fmt.Errorf("REFRESH_TOKEN_TTL (%s) must exceed ACCESS_TOKEN_TTL (%s)", refreshTTL, accessTTL)
	}

	cleanupInterval, err := ParseTTL(v.GetString("TOKEN_CLEANUP_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_CLEANUP_INTERVAL: %w", err)
	}

	cfg.Auth = AuthConfig{
		Secret:          v.GetString("JWT_SECRET"),
		AccessTTL:       accessTTL,
		RefreshTTL:      refreshTTL,
		Issuer:          v.GetString("JWT_ISSUER"),
		CleanupInterval: cleanupInterval,
	}

	if cfg.Env == EnvProduction && cfg.Auth.Secret == "" {
		return nil, errors.New("JWT_SECRET must be set in production")
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	throttleWindow, err := ParseTTL(v.GetString("LOGIN_THROTTLE_WINDOW"))
	if err != nil {
		return nil, fmt.Errorf("LOGIN_THROTTLE_WINDOW: %w", err)
	}
	cfg.Throttle = ThrottleConfig{
		Enabled:     v.GetBool("LOGIN_THROTTLE_ENABLED"),
		MaxAttempts: v.GetInt("LOGIN_THROTTLE_MAX_ATTEMPTS"),
		Window:      throttleWindow,
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "odyssey_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "odyssey-auth")
	v.SetDefault("ACCESS_TOKEN_TTL", "1h")
	v.SetDefault("REFRESH_TOKEN_TTL", "7d")
	v.SetDefault("TOKEN_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("LOGIN_THROTTLE_ENABLED", false)
	v.SetDefault("LOGIN_THROTTLE_MAX_ATTEMPTS", 10)
	v.SetDefault("LOGIN_THROTTLE_WINDOW", "1m")
}

// ParseTTL converts a TTL string into a duration. Accepted forms are an
// integer with one of the suffixes s, m, h or d, or a bare integer which is
// taken as milliseconds. An unrecognized suffix is a configuration error
// rather than a silent fallback.
func ParseTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}

	unit := time.Millisecond
	digits := raw
	switch raw[len(raw)-1] {
	case 's':
		unit = time.Second
		digits = raw[:len(raw)-1]
	case 'm':
		unit = time.Minute
		digits = raw[:len(raw)-1]
	case 'h':
		unit = time.Hour
		digits = raw[:len(raw)-1]
	case 'd':
		unit = 24 * time.Hour
		digits = raw[:len(raw)-1]
	default:
		if raw[len(raw)-1] < '0' || raw[len(raw)-1] > '9' {
			return 0, fmt.Errorf("unrecognized duration suffix in %q", raw)
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	return time.Duration(n) * unit, nil
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
