package workflows

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapAdapter implements Temporal's key/value logger on zap.
type zapAdapter struct {
	s *zap.SugaredLogger
}

var _ log.Logger = zapAdapter{}

// NewLogger adapts zl for Temporal clients and workers.
func NewLogger(zl *zap.Logger) log.Logger {
	return zapAdapter{s: zl.Named("temporal").Sugar()}
}

func (l zapAdapter) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapAdapter) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapAdapter) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapAdapter) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
