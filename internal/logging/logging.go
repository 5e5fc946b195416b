package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu   sync.Mutex
	root *logrus.Logger
)

// Root returns the process-wide base logger, creating it on first use.
func Root() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()

	if root == nil {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
	return root
}

// Subsystem returns a logger scoped to the named subsystem.
// All subsystem loggers share the root logger's level and output.
func Subsystem(name string) logrus.FieldLogger {
	return Root().WithField("subsystem", name)
}

// SetLevel applies a named level (debug, info, warn, error) to the root logger.
// Unknown names fall back to info.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	Root().SetLevel(parsed)
}
