// Package logging builds the zap loggers shared by the server and CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a production logger, or a development logger writing to stdout
// when debug is set. The logger also replaces zap's globals.
func New(debug bool) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Leveled adapts a SugaredLogger to the leveled logger interface expected by
// hashicorp/go-retryablehttp.
type Leveled struct {
	S *zap.SugaredLogger
}

func (l Leveled) Error(msg string, keysAndValues ...interface{}) { l.S.Errorw(msg, keysAndValues...) }
func (l Leveled) Info(msg string, keysAndValues ...interface{})  { l.S.Infow(msg, keysAndValues...) }
func (l Leveled) Debug(msg string, keysAndValues ...interface{}) { l.S.Debugw(msg, keysAndValues...) }
func (l Leveled) Warn(msg string, keysAndValues ...interface{})  { l.S.Warnw(msg, keysAndValues...) }
