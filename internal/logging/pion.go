package logging

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// PionFactory routes pion's internal logging into zap.
type PionFactory struct {
	Logger *zap.Logger
}

func NewPionFactory(logger *zap.Logger) *PionFactory {
	return &PionFactory{Logger: logger.Named("pion")}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{s: f.Logger.With(zap.String("scope", scope)).Sugar()}
}

type pionLogger struct {
	s *zap.SugaredLogger
}

// zap has no trace level; trace goes to debug.
func (l *pionLogger) Trace(msg string) { l.s.Debug(msg) }

func (l *pionLogger) Tracef(format string, args ...interface{}) { l.s.Debugf(format, args...) }

func (l *pionLogger) Debug(msg string) { l.s.Debug(msg) }

func (l *pionLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }

func (l *pionLogger) Info(msg string) { l.s.Info(msg) }

func (l *pionLogger) Infof(format string, args ...interface{}) { l.s.Infof(format, args...) }

func (l *pionLogger) Warn(msg string) { l.s.Warn(msg) }

func (l *pionLogger) Warnf(format string, args ...interface{}) { l.s.Warnf(format, args...) }

func (l *pionLogger) Error(msg string) { l.s.Error(msg) }

func (l *pionLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

var _ logging.LoggerFactory = (*PionFactory)(nil)
