package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string        `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	SlotGranularityMinutes    int    `mapstructure:"SLOT_GRANULARITY_MINUTES"`
	DefaultAppointmentMinutes int    `mapstructure:"DEFAULT_APPOINTMENT_MINUTES"`
	PasswordHashCost          int    `mapstructure:"PASSWORD_HASH_COST"`
	PlaceholderEmailDomain    string `mapstructure:"PLACEHOLDER_EMAIL_DOMAIN"`
	PlaceholderEmailAttempts  int    `mapstructure:"PLACEHOLDER_EMAIL_ATTEMPTS"`
	ClinicTimezone            string `mapstructure:"CLINIC_TIMEZONE"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	IdempotencyTTL time.Duration `mapstructure:"IDEMPOTENCY_TTL"`
	AMQPURL        string        `mapstructure:"AMQP_URL"`
	AMQPExchange   string        `mapstructure:"AMQP_EXCHANGE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"MIGRATIONS_DIR", "CORS_ORIGINS", "REQUEST_TIMEOUT",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"SLOT_GRANULARITY_MINUTES", "DEFAULT_APPOINTMENT_MINUTES", "PASSWORD_HASH_COST",
	"PLACEHOLDER_EMAIL_DOMAIN", "PLACEHOLDER_EMAIL_ATTEMPTS", "CLINIC_TIMEZONE",
	"REDIS_URL", "IDEMPOTENCY_TTL", "AMQP_URL", "AMQP_EXCHANGE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SLOT_GRANULARITY_MINUTES", 30)
	v.SetDefault("DEFAULT_APPOINTMENT_MINUTES", 30)
	v.SetDefault("PASSWORD_HASH_COST", 12)
	v.SetDefault("PLACEHOLDER_EMAIL_DOMAIN", "patients.placeholder.invalid")
	v.SetDefault("PLACEHOLDER_EMAIL_ATTEMPTS", 3)
	v.SetDefault("CLINIC_TIMEZONE", "UTC")
	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("AMQP_EXCHANGE", "hms.events")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves CLINIC_TIMEZONE, the zone appointment times are
// expressed in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ClinicTimezone)
	if err != nil {
		return nil, fmt.Errorf("CLINIC_TIMEZONE %q: %w", c.ClinicTimezone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.SlotGranularityMinutes <= 0 {
		return fmt.Errorf("SLOT_GRANULARITY_MINUTES must be positive, got %d", c.SlotGranularityMinutes)
	}
	if c.DefaultAppointmentMinutes <= 0 {
		return fmt.Errorf("DEFAULT_APPOINTMENT_MINUTES must be positive, got %d", c.DefaultAppointmentMinutes)
	}
	if c.DefaultAppointmentMinutes > c.SlotGranularityMinutes {
		return fmt.Errorf("DEFAULT_APPOINTMENT_MINUTES (%d) exceeds SLOT_GRANULARITY_MINUTES (%d), the last slot of every window could not be booked",
			c.DefaultAppointmentMinutes, c.SlotGranularityMinutes)
	}
	if c.PasswordHashCost < bcrypt.MinCost || c.PasswordHashCost > bcrypt.MaxCost {
		return fmt.Errorf("PASSWORD_HASH_COST must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.PasswordHashCost)
	}
	if c.PlaceholderEmailAttempts <= 0 {
		return fmt.Errorf("PLACEHOLDER_EMAIL_ATTEMPTS must be positive, got %d", c.PlaceholderEmailAttempts)
	}
	if c.PlaceholderEmailDomain == "" {
		return fmt.Errorf("PLACEHOLDER_EMAIL_DOMAIN is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthIssuer == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if !c.IsDev() && c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_SIGNING_KEY is not set")
	}
	return nil
}
