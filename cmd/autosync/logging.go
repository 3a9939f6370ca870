package main

import (
	"io"
	"log"
	"os"
	"sync"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/autosync/internal/config"
)

// logSink is where component loggers write. Loggers hold the sink itself, so
// output handed out before the config is loaded follows a later openFile.
type logSink struct {
	mu     sync.Mutex
	w      io.Writer
	file   *lumberjack.Logger
	toFile bool
}

// daemonLogSink writes to stderr until openFile switches it to the rotating
// log file named by the config.
func daemonLogSink() *logSink {
	return &logSink{w: os.Stderr, toFile: true}
}

// cliLogSink writes to stderr with --verbose and nowhere otherwise.
func cliLogSink() *logSink {
	if verbose {
		return &logSink{w: os.Stderr}
	}
	return &logSink{w: io.Discard}
}

// openFile routes output to the rotating log file and, when stderr is a
// terminal, to stderr as well. No-op for a CLI sink.
func (s *logSink) openFile(cfg config.LogConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.toFile || s.file != nil {
		return
	}
	s.file = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	s.w = s.file
	if term.IsTerminal(int(os.Stderr.Fd())) {
		s.w = io.MultiWriter(s.file, os.Stderr)
	}
}

func (s *logSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *logSink) logger(component string) *log.Logger {
	return log.New(s, "["+component+"] ", log.LstdFlags)
}

func (s *logSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
