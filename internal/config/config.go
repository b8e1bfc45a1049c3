package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "helpdesk-dev-secret-change-me"

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	// SearchServiceURL: when set, tickets are pushed to search-service (POST /search/index/ticket).
	SearchServiceURL string

	KafkaBrokers     []string
	KafkaTopicTicket string

	OTLPEndpoint string

	DB struct {
		Driver     string
		Host       string
		Port       string
		User       string
		Password   string
		Database   string
		SSLMode    string
		SQLitePath string
	}

	Auth struct {
		JWTSecret      string
		JWTIssuer      string
		AccessTokenTTL time.Duration
		BcryptCost     int
	}

	// Bootstrap and default credentials for accounts created without a password.
	Accounts struct {
		AdminUsername         string
		AdminPassword         string
		DefaultClientPassword string
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:          getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:         firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		SearchServiceURL: getEnv("SEARCH_SERVICE_URL", ""),
		KafkaBrokers:     ParseList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicTicket: getEnv("KAFKA_TOPIC_TICKET", "helpdesk.tickets"),
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	cfg.DB.Driver = strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "helpdesk")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.DB.SQLitePath = getEnv("SQLITE_PATH", "helpdesk.db")

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", defaultJWTSecret)
	cfg.Auth.JWTIssuer = getEnv("JWT_ISSUER", "helpdesk-service")
	ttl, err := getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.Auth.AccessTokenTTL = ttl
	cost, err := getEnvInt("BCRYPT_COST", 12)
	if err != nil {
		return nil, err
	}
	cfg.Auth.BcryptCost = cost

	cfg.Accounts.AdminUsername = getEnv("ADMIN_USERNAME", "admin")
	cfg.Accounts.AdminPassword = getEnv("ADMIN_PASSWORD", "040126")
	cfg.Accounts.DefaultClientPassword = getEnv("DEFAULT_CLIENT_PASSWORD", "402365")
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres":
		if c.DB.Host == "" || c.DB.Database == "" {
			return errors.New("config: DB_HOST and DB_DATABASE are required")
		}
		if c.AppEnv == "production" && c.DB.Password == "" {
			return errors.New("config: in production DB_PASSWORD is required")
		}
	case "sqlite":
		if c.DB.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH is required for DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	if c.AppEnv == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("config: in production JWT_SECRET must be set")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("config: ACCESS_TOKEN_TTL must be positive")
	}
	if c.Accounts.AdminUsername == "" || c.Accounts.AdminPassword == "" {
		return errors.New("config: ADMIN_USERNAME and ADMIN_PASSWORD are required")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// ParseList splits "host1:9092,host2:9092" into trimmed non-empty items.
func ParseList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return i, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
