package whatsapp

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapWaLogger bridges whatsmeow's logger onto the global zap logger.
type zapWaLogger struct {
	module string
}

var _ waLog.Logger = (*zapWaLogger)(nil)

func newWaLogger(module string) waLog.Logger {
	return &zapWaLogger{module: module}
}

func (l *zapWaLogger) log() *zap.Logger {
	return zap.L().With(zap.String("namespace", "whatsmeow"), zap.String("module", l.module))
}

func (l *zapWaLogger) Warnf(msg string, args ...interface{}) {
	l.log().Warn(fmt.Sprintf(msg, args...))
}

func (l *zapWaLogger) Errorf(msg string, args ...interface{}) {
	l.log().Error(fmt.Sprintf(msg, args...))
}

func (l *zapWaLogger) Infof(msg string, args ...interface{}) {
	l.log().Info(fmt.Sprintf(msg, args...))
}

func (l *zapWaLogger) Debugf(msg string, args ...interface{}) {
	l.log().Debug(fmt.Sprintf(msg, args...))
}

func (l *zapWaLogger) Sub(module string) waLog.Logger {
	return &zapWaLogger{module: l.module + "/" + module}
}
