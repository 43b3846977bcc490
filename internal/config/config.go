package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration
type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	Env           string `envconfig:"ENV" default:"development"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisTLS      bool   `envconfig:"REDIS_TLS" default:"false"`

	// Per-actor JWT secrets; each actor type validates against its own key.
	CustomerJWTSecret string        `envconfig:"CUSTOMER_JWT_SECRET"`
	StaffJWTSecret    string        `envconfig:"STAFF_JWT_SECRET"`
	TenantJWTSecret   string        `envconfig:"TENANT_JWT_SECRET"`
	TokenTTL          time.Duration `envconfig:"TOKEN_TTL" default:"12h"`

	Mpesa MpesaConfig

	PaymentVelocityMax    int           `envconfig:"PAYMENT_VELOCITY_MAX" default:"5"`
	PaymentVelocityWindow time.Duration `envconfig:"PAYMENT_VELOCITY_WINDOW" default:"1h"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	RateLimitPerSecond float64  `envconfig:"RATE_LIMIT_PER_SECOND" default:"20"`
	RateLimitBurst     int      `envconfig:"RATE_LIMIT_BURST" default:"40"`

	AWSRegion             string `envconfig:"AWS_REGION" default:"af-south-1"`
	AWSAccessKeyID        string `envconfig:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey    string `envconfig:"AWS_SECRET_ACCESS_KEY"`
	AWSEndpointOverride   string `envconfig:"AWS_ENDPOINT_OVERRIDE"`
	CallbackArchiveBucket string `envconfig:"CALLBACK_ARCHIVE_BUCKET"`
	EventsQueueURL        string `envconfig:"EVENTS_QUEUE_URL"`
}

// MpesaConfig carries the Daraja credentials and endpoints.
type MpesaConfig struct {
	BaseURL           string        `envconfig:"MPESA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	ConsumerKey       string        `envconfig:"MPESA_CONSUMER_KEY"`
	ConsumerSecret    string        `envconfig:"MPESA_CONSUMER_SECRET"`
	ShortCode         string        `envconfig:"MPESA_SHORTCODE" default:"174379"`
	PassKey           string        `envconfig:"MPESA_PASSKEY"`
	CallbackURL       string        `envconfig:"MPESA_CALLBACK_URL"`
	WalkInCallbackURL string        `envconfig:"MPESA_WALKIN_CALLBACK_URL"`
	Timeout           time.Duration `envconfig:"MPESA_TIMEOUT" default:"30s"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured outside production.
func Load() (*Config, error) {
	if !strings.EqualFold(strings.TrimSpace(lookupEnv("ENV")), "production") {
		_ = godotenv.Load()
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	if cfg.Mpesa.CallbackURL == "" && cfg.PublicBaseURL != "" {
		cfg.Mpesa.CallbackURL = cfg.PublicBaseURL + "/mpesa-callback/"
	}
	if cfg.Mpesa.WalkInCallbackURL == "" && cfg.PublicBaseURL != "" {
		cfg.Mpesa.WalkInCallbackURL = cfg.PublicBaseURL + "/mpesa-callback/walkin/"
	}
	return &cfg, nil
}

// MustLoad is Load for binaries that cannot start without configuration.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// IsProduction reports whether the app runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Validate rejects production settings that would leave the API unable to
// authenticate callers or reach Daraja.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	var missing []string
	required := map[string]string{
		"DATABASE_URL":          c.DatabaseURL,
		"CUSTOMER_JWT_SECRET":   c.CustomerJWTSecret,
		"STAFF_JWT_SECRET":      c.StaffJWTSecret,
		"TENANT_JWT_SECRET":     c.TenantJWTSecret,
		"MPESA_CONSUMER_KEY":    c.Mpesa.ConsumerKey,
		"MPESA_CONSUMER_SECRET": c.Mpesa.ConsumerSecret,
		"MPESA_PASSKEY":         c.Mpesa.PassKey,
		"MPESA_CALLBACK_URL":    c.Mpesa.CallbackURL,
	}
	for key, value := range required {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	if c.CustomerJWTSecret == c.StaffJWTSecret || c.CustomerJWTSecret == c.TenantJWTSecret || c.StaffJWTSecret == c.TenantJWTSecret {
		return fmt.Errorf("config: jwt secrets must differ per actor type")
	}
	return nil
}
