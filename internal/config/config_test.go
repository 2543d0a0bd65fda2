package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port '8080', got '%s'", cfg.Port)
	}
	if cfg.JWTSecret != "dev-secret-change-in-prod" {
		t.Errorf("expected default JWT secret, got '%s'", cfg.JWTSecret)
	}
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("expected 15s heartbeat interval, got %s", cfg.HeartbeatInterval)
	}
	if cfg.MissedHeartbeats != 3 {
		t.Errorf("expected 3 missed heartbeats, got %d", cfg.MissedHeartbeats)
	}
	if cfg.GatewayTimeout != 2*time.Second {
		t.Errorf("expected 2s gateway timeout, got %s", cfg.GatewayTimeout)
	}
	if cfg.Brokers() != nil {
		t.Errorf("expected no kafka brokers by default, got %v", cfg.Brokers())
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9091")
	t.Setenv("JWT_SECRET", "my-secret")
	t.Setenv("MISSED_HEARTBEATS", "5")
	t.Setenv("HEARTBEAT_INTERVAL", "500ms")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9091" {
		t.Errorf("expected port '9091', got '%s'", cfg.Port)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("expected JWT secret 'my-secret', got '%s'", cfg.JWTSecret)
	}
	if cfg.MissedHeartbeats != 5 {
		t.Errorf("expected 5 missed heartbeats, got %d", cfg.MissedHeartbeats)
	}
	if cfg.HeartbeatInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %s", cfg.HeartbeatInterval)
	}
	brokers := cfg.Brokers()
	if len(brokers) != 2 || brokers[0] != "a:9092" || brokers[1] != "b:9092" {
		t.Errorf("unexpected brokers %v", brokers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero heartbeats", "MISSED_HEARTBEATS", "0"},
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"bad log format", "LOG_FORMAT", "xml"},
		{"zero per-ip cap", "MAX_CONNECTIONS_PER_IP", "0"},
		{"not a duration", "GATEWAY_TIMEOUT", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	cfg := &Config{AllowedOrigins: "https://shop.example.com, https://admin.example.com ,"}
	got := cfg.Origins()
	if len(got) != 2 {
		t.Fatalf("expected 2 origins, got %v", got)
	}
	if got[1] != "https://admin.example.com" {
		t.Errorf("expected trimmed origin, got %q", got[1])
	}
}
