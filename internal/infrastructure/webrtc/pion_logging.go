package webrtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLoggerFactory routes pion's internal ICE/DTLS/SCTP logs into zap with a
// "pion" scope field. Pion's trace level maps onto debug.
type zapLoggerFactory struct {
	base *zap.SugaredLogger
}

func newZapLoggerFactory(logger *zap.SugaredLogger, level string) logging.LoggerFactory {
	lvl := zapcore.WarnLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.WarnLevel
		}
	}
	return &zapLoggerFactory{
		base: logger.Desugar().WithOptions(zap.IncreaseLevel(lvl), zap.AddCallerSkip(1)).Sugar(),
	}
}

func (f *zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapLeveledLogger{log: f.base.With("pion", scope)}
}

type zapLeveledLogger struct {
	log *zap.SugaredLogger
}

func (l *zapLeveledLogger) Trace(msg string)                          { l.log.Debug(msg) }
func (l *zapLeveledLogger) Tracef(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapLeveledLogger) Debug(msg string)                          { l.log.Debug(msg) }
func (l *zapLeveledLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapLeveledLogger) Info(msg string)                           { l.log.Info(msg) }
func (l *zapLeveledLogger) Infof(format string, args ...interface{})  { l.log.Infof(format, args...) }
func (l *zapLeveledLogger) Warn(msg string)                           { l.log.Warn(msg) }
func (l *zapLeveledLogger) Warnf(format string, args ...interface{})  { l.log.Warnf(format, args...) }
func (l *zapLeveledLogger) Error(msg string)                          { l.log.Error(msg) }
func (l *zapLeveledLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
