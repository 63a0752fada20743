package util

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, LogOptions{Level: "warn"})

	log.Info("dropped")
	log.Warn("refresh failed", "authorization_id", "auth-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "refresh failed" {
		t.Errorf("msg = %v, want %q", rec["msg"], "refresh failed")
	}
	if rec["authorization_id"] != "auth-1" {
		t.Errorf("authorization_id = %v, want %q", rec["authorization_id"], "auth-1")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "brokerlink.log")
	log, err := NewLogger(LogOptions{Level: "info", Format: "text", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("NewLogger() error: %v", err)
	}
	log.Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("msg=hello")) {
		t.Errorf("log file = %q, want text record containing msg=hello", data)
	}
}

func TestRateLimiterUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	if rl.Limit() != rate.Inf {
		t.Errorf("Limit() = %v, want Inf", rl.Limit())
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait() error: %v", err)
		}
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	if rl.Burst() != 1 {
		t.Errorf("Burst() = %d, want 1", rl.Burst())
	}
	if !rl.Allow() {
		t.Fatal("first Allow() = false, want true")
	}
	if rl.Allow() {
		t.Error("second Allow() = true, want false")
	}
}
