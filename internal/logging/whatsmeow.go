package logging

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

type waLogger struct {
	l *zap.Logger
}

// Whatsmeow adapts a zap logger to the whatsmeow logging interface. The
// client's debug chatter is dropped unless the zap core enables debug.
func Whatsmeow(l *zap.Logger, module string) waLog.Logger {
	return &waLogger{l: l.Named(module)}
}

func (w *waLogger) Errorf(msg string, args ...any) { w.l.Error(fmt.Sprintf(msg, args...)) }
func (w *waLogger) Warnf(msg string, args ...any)  { w.l.Warn(fmt.Sprintf(msg, args...)) }
func (w *waLogger) Infof(msg string, args ...any)  { w.l.Info(fmt.Sprintf(msg, args...)) }
func (w *waLogger) Debugf(msg string, args ...any) { w.l.Debug(fmt.Sprintf(msg, args...)) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{l: w.l.Named(module)}
}
