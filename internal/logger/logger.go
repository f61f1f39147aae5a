package logger

import (
	"io"
	"os"
	"time"

	"github.com/lexzee/corpersafe/internal/config"

	"github.com/sirupsen/logrus"
)

// New builds the process logger from LOG_LEVEL and LOG_FORMAT.
// Unknown levels fall back to info, unknown formats to text.
func New(cfg config.Config) *logrus.Logger {
	return newWithOutput(cfg, os.Stdout)
}

func newWithOutput(cfg config.Config, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
			DisableColors:   true,
		})
	}
	return log
}

// Discard returns a logger that drops everything. Used where a component
// is built without a logger, mostly in tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
