// Package rlog builds the zap loggers used across RUNE, following the
// production/development config switch and component-named child loggers
// established in the pack's CLI entry points.
package rlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rune-authz/rune/internal/config"
)

// New builds a *zap.Logger from a LoggingConfig: zap's production preset by
// default, its development preset when Development is set. A non-empty
// Encoding overrides the preset's encoding, and the level always comes from
// Level (info when empty or unparseable).
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if cfg.Encoding != "" {
		zcfg.Encoding = cfg.Encoding
	}

	level, err := zapcore.ParseLevel(levelOrDefault(cfg.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

func levelOrDefault(level string) string {
	if level == "" {
		return "info"
	}
	return level
}

// Component returns a child logger tagged with a "component" field, the
// pattern used throughout the engine instead of ad hoc prefixed messages.
func Component(base *zap.Logger, name string) *zap.Logger {
	return base.With(zap.String("component", name))
}

// Nop returns a logger that discards everything, for tests that do not
// care about log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
