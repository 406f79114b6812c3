package logging

import (
	"io"

	"github.com/sirupsen/logrus"

	"lance/pkg/config"
)

// Logger is the process-wide structured logger type.
type Logger = *logrus.Logger

// Fields is a set of structured log fields.
type Fields = logrus.Fields

// Entry is a logger with fields attached.
type Entry = *logrus.Entry

// NewLogger returns a JSON logger at the level named by LOG_LEVEL.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService returns a logger that stamps every entry with the service name.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(serviceHook{service: serviceName})
	return logger
}

// NewDiscardLogger is used by CLIs and tests that do not want log output.
func NewDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type serviceHook struct {
	service string
}

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = h.service
	}
	return nil
}
