package rlog

import (
	"testing"

	"github.com/rune-authz/rune/internal/config"
)

func TestNewBuildsProductionLoggerByDefault(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn", Encoding: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected a non-nil logger")
	}
	defer logger.Sync()
}

func TestNewFallsBackOnInvalidLevel(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Sync()
}

func TestComponentTagsChildLogger(t *testing.T) {
	base := Nop()
	child := Component(base, "eval")
	if child == nil {
		t.Fatalf("expected a non-nil child logger")
	}
}
