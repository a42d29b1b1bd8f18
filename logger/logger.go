// Package logger provides the single structured log sink used across uffs.
// An embedded device has one log destination, so unlike the multi-file
// setups common in server software, this wraps one logrus.Logger.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

var std *logrus.Logger

// Config controls the sink and verbosity of the package logger.
type Config struct {
	Level  string // debug|info|warn|error (default info)
	Output *os.File
}

type terseFormatter struct{}

func (terseFormatter) Format(e *logrus.Entry) ([]byte, error) {
	level := strings.ToUpper(e.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}
	return []byte(fmt.Sprintf("%s [%s] (%s) %s\n",
		e.Time.Format("15:04:05.000"), level, caller(), e.Message)), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen/logrus") || strings.Contains(file, "uffs/logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	return "unknown:0"
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init (re)configures the package logger. Safe to call before any public
// uffs entry point; uninitialized use falls back to an info-level logger
// writing to stderr.
func Init(cfg Config) {
	l := logrus.New()
	l.SetFormatter(terseFormatter{})
	l.SetLevel(parseLevel(cfg.Level))
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	} else {
		l.SetOutput(os.Stderr)
	}
	std = l
}

func get() *logrus.Logger {
	if std == nil {
		Init(Config{Level: "info"})
	}
	return std
}

func Debugf(format string, args ...interface{}) { get().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { get().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { get().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { get().Errorf(format, args...) }
