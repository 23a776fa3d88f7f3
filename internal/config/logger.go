package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// NewLogger builds the process logger. Production logs are JSON unless the
// format says otherwise; an unknown level falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch {
	case c.Log.Format == "json", c.Log.Format == "" && c.IsProduction():
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
