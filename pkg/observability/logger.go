// Package observability provides logging, metrics, and health check
// support for the service.
package observability

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger. Unknown levels fall back to info;
// format "json" selects structured output, anything else stays text.
func NewLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}
