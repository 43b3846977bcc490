package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "production")
	unsetEnv(t, "PORT", "LOG_LEVEL", "PUBLIC_BASE_URL", "MPESA_TIMEOUT", "MPESA_SHORTCODE", "MPESA_CALLBACK_URL")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Mpesa.Timeout != 30*time.Second {
		t.Fatalf("expected 30s gateway timeout, got %s", cfg.Mpesa.Timeout)
	}
	if cfg.Mpesa.ShortCode != "174379" {
		t.Fatalf("expected sandbox shortcode, got %s", cfg.Mpesa.ShortCode)
	}
	if cfg.Mpesa.CallbackURL != "" {
		t.Fatalf("expected empty callback url without base url, got %s", cfg.Mpesa.CallbackURL)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("PUBLIC_BASE_URL", "https://api.example.co.ke/")
	unsetEnv(t, "MPESA_CALLBACK_URL", "MPESA_WALKIN_CALLBACK_URL")
	t.Setenv("MPESA_TIMEOUT", "10s")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.Mpesa.CallbackURL != "https://api.example.co.ke/mpesa-callback/" {
		t.Fatalf("expected derived callback url, got %s", cfg.Mpesa.CallbackURL)
	}
	if cfg.Mpesa.WalkInCallbackURL != "https://api.example.co.ke/mpesa-callback/walkin/" {
		t.Fatalf("expected derived walk-in callback url, got %s", cfg.Mpesa.WalkInCallbackURL)
	}
	if cfg.Mpesa.Timeout != 10*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.Mpesa.Timeout)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("expected token ttl override, got %s", cfg.TokenTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected two cors origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	prod := func() *Config {
		return &Config{
			Env:               "production",
			DatabaseURL:       "postgres://db",
			CustomerJWTSecret: "c-secret",
			StaffJWTSecret:    "s-secret",
			TenantJWTSecret:   "t-secret",
			Mpesa: MpesaConfig{
				ConsumerKey:    "key",
				ConsumerSecret: "secret",
				PassKey:        "pass",
				CallbackURL:    "https://api.example.co.ke/mpesa-callback/",
			},
		}
	}

	if err := prod().Validate(); err != nil {
		t.Fatalf("expected valid production config, got %v", err)
	}

	cfg := prod()
	cfg.DatabaseURL = ""
	cfg.Mpesa.PassKey = " "
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL, MPESA_PASSKEY") {
		t.Fatalf("expected missing keys error, got %v", err)
	}

	cfg = prod()
	cfg.StaffJWTSecret = cfg.TenantJWTSecret
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected shared secret to be rejected")
	}

	dev := &Config{Env: "development"}
	if err := dev.Validate(); err != nil {
		t.Fatalf("development config should not be validated, got %v", err)
	}
}
