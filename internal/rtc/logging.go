package rtc

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
)

// zapLoggerFactory routes pion's internal logs (ICE, DTLS, SCTP) into zap.
// pion's Info is chatty, so it lands at Debug.
type zapLoggerFactory struct {
	logger *zap.Logger
}

func (f zapLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return zapLeveled{s: f.logger.With(zap.String("pion", scope)).Sugar()}
}

type zapLeveled struct {
	s *zap.SugaredLogger
}

func (l zapLeveled) Trace(msg string) {}
func (l zapLeveled) Tracef(format string, args ...any) {}
func (l zapLeveled) Debug(msg string) { l.s.Debug(msg) }
func (l zapLeveled) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l zapLeveled) Info(msg string) { l.s.Debug(msg) }
func (l zapLeveled) Infof(format string, args ...any) { l.s.Debugf(format, args...) }
func (l zapLeveled) Warn(msg string) { l.s.Warn(msg) }
func (l zapLeveled) Warnf(format string, args ...any) { l.s.Warnf(format, args...) }
func (l zapLeveled) Error(msg string) { l.s.Error(msg) }
func (l zapLeveled) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }
