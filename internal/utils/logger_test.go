package utils

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestBuildZapConfig(t *testing.T) {
	cfg := buildZapConfig(LoggingConfig{Level: "DEBUG", Encoding: "json", ServiceName: "svc"})
	if cfg.Level.Level() != zapcore.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.Level.Level())
	}
	if cfg.Encoding != "json" {
		t.Fatalf("expected json encoding, got %s", cfg.Encoding)
	}
	if cfg.InitialFields["service"] != "svc" {
		t.Fatalf("expected service field, got %v", cfg.InitialFields)
	}

	fallback := buildZapConfig(LoggingConfig{Level: "loud", Encoding: "xml"})
	if fallback.Level.Level() != zapcore.InfoLevel || fallback.Encoding != "console" {
		t.Fatalf("expected info/console fallback, got %s/%s", fallback.Level.Level(), fallback.Encoding)
	}
}

func TestNewLoggerInstallsGlobal(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Encoding: "console", ServiceName: "test"})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if Logger() != logger {
		t.Fatalf("expected Logger() to return the installed logger")
	}
}
