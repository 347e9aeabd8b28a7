/*
Package logger wraps zerolog so that every component of the agent logs in the
same structured format. A root logger writes to a rotating file (lumberjack)
and to any number of console writers; components derive child loggers that
carry extra context fields.
*/
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30

	componentKey  = "component"
	targetKey     = "target"
	connectionKey = "connectionId"
	versionKey    = "agentVersion"
)

type Config struct {
	// Logs are written to this file if it is set
	FilePath string

	// Additional writers, e.g. os.Stdout in debug mode
	ConsoleWriters []io.Writer

	// The zero value is debug
	Level zerolog.Level

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type Logger struct {
	logger zerolog.Logger
}

func New(config *Config) (*Logger, error) {
	if config == nil {
		config = &Config{}
	}

	writers := []io.Writer{}
	for _, w := range config.ConsoleWriters {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true})
	}

	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0750); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    valueOr(config.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: valueOr(config.MaxBackups, defaultMaxBackups),
			MaxAge:     valueOr(config.MaxAgeDays, defaultMaxAgeDays),
			Compress:   true,
		})
	}

	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	return &Logger{
		logger: zerolog.New(out).Level(config.Level).With().Timestamp().Logger(),
	}, nil
}

func valueOr(v int, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// ToLogLevel maps the cli spelling of a level onto zerolog's
func ToLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unrecognized log level: %q", level)
	}
}

func (l *Logger) AddAgentVersion(version string) {
	l.logger = l.logger.With().Str(versionKey, version).Logger()
}

func (l *Logger) GetComponentLogger(component string) *Logger {
	return l.with(componentKey, component)
}

// GetTargetLogger returns a child logger tagged with the remote peer (fd, mef)
func (l *Logger) GetTargetLogger(target string) *Logger {
	return l.with(targetKey, target)
}

func (l *Logger) GetConnectionLogger(connectionId string) *Logger {
	return l.with(connectionKey, connectionId)
}

func (l *Logger) with(key string, value string) *Logger {
	return &Logger{
		logger: l.logger.With().Str(key, value).Logger(),
	}
}

func (l *Logger) Trace(msg string) {
	l.logger.Trace().Msg(msg)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.logger.Trace().Msgf(format, a...)
}

func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.logger.Debug().Msgf(format, a...)
}

func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.logger.Info().Msgf(format, a...)
}

func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.logger.Warn().Msgf(format, a...)
}

func (l *Logger) Error(err error) {
	l.logger.Error().Err(err).Send()
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.logger.Error().Msgf(format, a...)
}
