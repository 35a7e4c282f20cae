package log

import (
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 50
	logFileMaxBackups = 3
)

// InitLogs creates the process logger. The level is taken from the first
// argument if given, otherwise from LOG_LEVEL, and defaults to info.
func InitLogs(level ...string) *logrus.Logger {
	log := logrus.New()

	log.SetReportCaller(true)

	lvl := os.Getenv("LOG_LEVEL")
	if len(level) > 0 && level[0] != "" {
		lvl = level[0]
	}
	if lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			log.SetLevel(parsed)
		} else {
			log.Warnf("invalid log level %q, using %s", lvl, log.GetLevel())
		}
	}

	return log
}

// RotatingFile returns a writer appending to path. The file is rotated once it
// grows past logFileMaxSizeMB and only the newest rotations are kept.
func RotatingFile(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logFileMaxSizeMB,
		MaxBackups: logFileMaxBackups,
		Compress:   true,
		LocalTime:  true,
	}
}

// WithComponent tags every entry written through the returned logger with the component name.
func WithComponent(inner logrus.FieldLogger, component string) logrus.FieldLogger {
	return inner.WithField("component", component)
}

// WithDevice tags every entry with the device correlation key.
func WithDevice(inner logrus.FieldLogger, deviceID string) logrus.FieldLogger {
	return inner.WithField("device_id", deviceID)
}

// Discard returns a logger that drops everything, for tests and library defaults.
func Discard() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(devNull{})
	return l
}

type devNull struct{}

func (devNull) Write(p []byte) (int, error) { return len(p), nil }
