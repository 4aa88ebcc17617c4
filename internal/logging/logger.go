package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options controls the process-wide logger
type Options struct {
	Level  string    // logrus level name, "info" when empty or invalid
	Local  bool      // human readable output at debug level
	Output io.Writer // defaults to stderr
}

// IsLocal reports whether LOCAL is set to a truthy value
func IsLocal() bool {
	v := strings.ToLower(os.Getenv("LOCAL"))
	return v == "true" || v == "1"
}

// Setup configures the standard logrus logger and returns it.
// Local runs get text output at debug level, everything else gets JSON.
func Setup(opts Options) *logrus.Logger {
	logger := logrus.StandardLogger()
	Configure(logger, opts)
	return logger
}

// Configure applies opts to logger
func Configure(logger *logrus.Logger, opts Options) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	if opts.Local {
		if level < logrus.DebugLevel {
			level = logrus.DebugLevel
		}
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	logger.SetLevel(level)

	if opts.Output != nil {
		logger.SetOutput(opts.Output)
	} else {
		logger.SetOutput(os.Stderr)
	}
}

// Component returns an entry tagged with the component name
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}
