// Package logging routes the standard logger to stderr and, optionally, to a
// rotating log file.
package logging

import (
	"io"
	"log"
	"os"

	"github.com/luispma04/PowerLine-Drone/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup configures the standard logger. The returned closer flushes and
// closes the log file, if any.
func Setup(cfg config.Log) io.Closer {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)

	if cfg.File == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
