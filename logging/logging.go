// Package logging constructs the single zap logger threaded through
// the transport and node orchestrator (the store takes no logger).
package logging

import "go.uber.org/zap"

// New builds a production-profile sugared logger. debug switches to a
// development profile (console encoding, debug level) for local runs.
func New(debug bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything, for tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
