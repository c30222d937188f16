// Package logging configures logrus from a config.LogConfig.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/peerchat/config"
)

// Setup configures the standard logrus logger. The returned closer
// releases log files and must be closed on exit.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	return Apply(logrus.StandardLogger(), cfg)
}

// Apply configures logger from cfg.
func Apply(logger *logrus.Logger, cfg config.LogConfig) (io.Closer, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter logrus.Formatter
	switch strings.ToLower(cfg.Format) {
	case "json":
		formatter = &logrus.JSONFormatter{}
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	var (
		writers []io.Writer
		closers multiCloser
	)
	for _, out := range outputs {
		w, c, err := openOutput(out, cfg.Rotation)
		if err != nil {
			closers.Close()
			return nil, err
		}
		writers = append(writers, w)
		if c != nil {
			closers = append(closers, c)
		}
	}

	logger.SetLevel(level)
	logger.SetFormatter(formatter)
	if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return closers, nil
}

func parseLevel(name string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// openOutput resolves stdout, stderr or a file path. Files rotate through
// lumberjack when rotation is enabled.
func openOutput(out string, rot config.RotationConfig) (io.Writer, io.Closer, error) {
	switch strings.ToLower(out) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	}

	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	if rot.Enable {
		lj := &lumberjack.Logger{
			Filename:   out,
			MaxSize:    atLeast(rot.MaxSizeMB, 1),
			MaxBackups: rot.MaxBackups,
			MaxAge:     rot.MaxAgeDays,
			Compress:   rot.Compress,
		}
		return lj, lj, nil
	}

	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return f, f, nil
}

func atLeast(v, min int) int {
	if v < min {
		return min
	}
	return v
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
