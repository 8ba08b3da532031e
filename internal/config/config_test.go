package config

import (
	"os"
	"testing"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/vitaltrack")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("default port = %q, want 8000", cfg.Port)
	}
	if cfg.ImportBatchSize != 100 {
		t.Errorf("default import batch size = %d, want 100", cfg.ImportBatchSize)
	}
	if !cfg.IsDev() {
		t.Error("default env should be development")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Env: "production", ImportBatchSize: 100, DBMaxConns: 20, DBMinConns: 5}
	if err := cfg.Validate(); err == nil {
		t.Error("production without AUTH_SECRET must not validate")
	}

	cfg.AuthSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	cfg.ImportBatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero batch size must not validate")
	}

	cfg.ImportBatchSize = 100
	cfg.DBMaxConns = 1
	if err := cfg.Validate(); err == nil {
		t.Error("max conns below min conns must not validate")
	}
}
