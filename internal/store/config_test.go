package store

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9100\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.KIS.BaseURL != "https://openapi.koreainvestment.com:9443" {
		t.Errorf("expected default base URL, got %s", cfg.KIS.BaseURL)
	}
	if cfg.KIS.TimeoutSeconds != 10 {
		t.Errorf("expected default timeout 10, got %.1f", cfg.KIS.TimeoutSeconds)
	}
	if cfg.Cache.OverviewTTLSeconds != 3 {
		t.Errorf("expected overview TTL 3, got %.1f", cfg.Cache.OverviewTTLSeconds)
	}
	if cfg.Cache.BypassCooldownSeconds != 30 {
		t.Errorf("expected bypass cooldown 30, got %.1f", cfg.Cache.BypassCooldownSeconds)
	}
	if cfg.Intraday.MaxCalls != 20 {
		t.Errorf("expected intraday max calls 20, got %d", cfg.Intraday.MaxCalls)
	}
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 99999\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for out-of-range port")
	}
}

func TestLoadConfigRejectsNegativeTimeout(t *testing.T) {
	path := writeTempConfig(t, "kis:\n  timeout_seconds: -1\n")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for negative timeout")
	}
}

func TestCORSOriginList(t *testing.T) {
	var cfg Config
	cfg.Server.CORSOrigins = "http://localhost:3000, http://localhost:51151 ,"

	origins := cfg.CORSOriginList()
	if len(origins) != 2 {
		t.Fatalf("expected 2 origins, got %d: %v", len(origins), origins)
	}
	if origins[0] != "http://localhost:3000" || origins[1] != "http://localhost:51151" {
		t.Errorf("unexpected origins: %v", origins)
	}
}
