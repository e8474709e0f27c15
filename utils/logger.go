package utils

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Loggers are usable before InitLogger so library code and tests never see
// a nil logger.
var (
	InfoLogger  = logrus.New()
	ErrorLogger = logrus.New()
)

func InitLogger() {
	InitLoggerWithLevel("info")
}

// InitLoggerWithLevel configures InfoLogger on stdout and ErrorLogger on
// stderr. Unknown levels fall back to info.
func InitLoggerWithLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	InfoLogger.SetOutput(os.Stdout)
	InfoLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ErrorLogger.SetOutput(os.Stderr)
	ErrorLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	InfoLogger.SetLevel(lvl)
	ErrorLogger.SetLevel(logrus.ErrorLevel)
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return InfoLogger.WithField("component", name)
}
