package cli

import (
	"fmt"

	"go.uber.org/zap"
)

// LoggerBuilder builds the logger of a command run.
type LoggerBuilder func(verbose bool) (*zap.Logger, error)

// NewLogger builds a JSON production logger on stderr, or a development
// console logger at debug level when verbose is set.
func NewLogger(verbose bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		config.DisableStacktrace = true
		logger, err = config.Build()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
