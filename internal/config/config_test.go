package config

import (
	"strings"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "./licenses.db")
	t.Setenv("LICENSE_SECRET", "s3cret")
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("SENTRY_DSN", "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("expected wildcard origins, got %v", cfg.AllowedOrigins)
	}
}

func TestNewReportsAllMissingVariables(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LICENSE_SECRET", "")

	_, err := New()
	if err == nil {
		t.Fatal("expected an error for missing configuration")
	}
	msg := err.Error()
	if !strings.Contains(msg, "DATABASE_URL") || !strings.Contains(msg, "LICENSE_SECRET") {
		t.Errorf("expected both missing variables reported, got: %v", msg)
	}
}

func TestNewParsesAllowedOrigins(t *testing.T) {
	t.Setenv("DATABASE_URL", "./licenses.db")
	t.Setenv("LICENSE_SECRET", "s3cret")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	want := []string{"https://app.example.com", "https://admin.example.com"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.AllowedOrigins)
	}
	for i, o := range want {
		if cfg.AllowedOrigins[i] != o {
			t.Errorf("origin %d: expected %q, got %q", i, o, cfg.AllowedOrigins[i])
		}
	}
}
