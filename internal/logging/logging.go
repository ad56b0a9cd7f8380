// Package logging builds the structured logger shared by every rangeproxy
// component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls how New builds a logger.
type Options struct {
	Level    string
	FilePath string
}

// New returns a JSON-formatted logrus.Logger. When opts.FilePath is set,
// output rotates through lumberjack; otherwise it goes to stdout.
func New(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
		log.WithField("level", opts.Level).Warn("rangeproxy: unrecognized log level, defaulting to info")
	}
	log.SetLevel(level)
	log.SetOutput(buildOutput(opts.FilePath))
	return log
}

func buildOutput(filePath string) io.Writer {
	if filePath == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
		LocalTime:  true,
	}
}
