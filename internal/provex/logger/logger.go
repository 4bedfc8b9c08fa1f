package logger

import (
	"go.uber.org/zap"
)

// New returns a logger suitable for the CLI: console encoding,
// warnings and above unless verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// NewDaemon returns a production JSON logger for the HTTP daemon.
func NewDaemon() (*zap.Logger, error) {
	return zap.NewProduction()
}

// Nop returns a logger that discards everything. Used in tests and as
// a safe default before configuration is loaded.
func Nop() *zap.Logger {
	return zap.NewNop()
}
