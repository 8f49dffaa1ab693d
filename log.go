package tile

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface the package writes diagnostics through.
// The default is a logrus logger at info level; hosts embedding this package
// can install their own implementation with SetLogger.
type Logger interface {
	Info(...interface{})
	Debug(...interface{})
	Error(...interface{})
	Warn(...interface{})

	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Errorf(string, ...interface{})
	Warnf(string, ...interface{})

	ChildLogger(tags map[string]interface{}) Logger
}

var pkgLogger Logger
var loggerMu sync.Mutex

// SetLogger installs a custom logger for the whole package.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	pkgLogger = l
}

// GetLogger returns the package logger, building the logrus default on first use.
func GetLogger() Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()

	if pkgLogger == nil {
		pkgLogger = buildDefaultLogger()
	}

	return pkgLogger
}

// SetLogLevelMax turns on trace logging for the default logger.
func SetLogLevelMax() {
	l := GetLogger()

	if lg, ok := l.(*defaultLogger); ok {
		lg.Entry.Logger.SetLevel(logrus.TraceLevel)
	} else {
		l.Error("non-default logger, don't know how to set level")
	}
}

func logger() Logger {
	return GetLogger()
}

type defaultLogger struct {
	*logrus.Entry
}

func buildDefaultLogger() Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
	}

	return &defaultLogger{Entry: l.WithFields(map[string]interface{}{})}
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	nl := &defaultLogger{d.Entry.WithFields(ff)}
	return nl
}

// redactKey renders key material as a 4-hex-char prefix. Full auth and
// channel keys must never reach logs or error strings.
func redactKey(b []byte) string {
	if len(b) < 2 {
		return "????"
	}
	return fmt.Sprintf("%x****", b[:2])
}
