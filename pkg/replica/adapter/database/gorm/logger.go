package gorm

import (
	"context"
	"errors"
	"strings"
	"time"

	gorm_logger "gorm.io/gorm/logger"

	"github.com/tigerroll/replica/pkg/replica/support/util/logger"
)

// slowStatement is the duration above which a statement is logged at WARN
// regardless of level. Bulk loads are excluded; they go through the writers.
const slowStatement = 2 * time.Second

// sqlLogger bridges gorm's logger interface to the replica logger. Statement
// traces are emitted at DEBUG.
type sqlLogger struct {
	level gorm_logger.LogLevel
}

// NewGormLogger returns a gorm logger at the named level. Unknown levels are silent.
func NewGormLogger(level string) gorm_logger.Interface {
	l := gorm_logger.Silent
	switch strings.ToUpper(level) {
	case "ERROR":
		l = gorm_logger.Error
	case "WARN":
		l = gorm_logger.Warn
	case "INFO", "DEBUG", "TRACE":
		l = gorm_logger.Info
	}
	return &sqlLogger{level: l}
}

func (s *sqlLogger) LogMode(level gorm_logger.LogLevel) gorm_logger.Interface {
	return &sqlLogger{level: level}
}

func (s *sqlLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if s.level >= gorm_logger.Info {
		logger.Infof("[sql] "+msg, data...)
	}
}

func (s *sqlLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if s.level >= gorm_logger.Warn {
		logger.Warnf("[sql] "+msg, data...)
	}
}

func (s *sqlLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if s.level >= gorm_logger.Error {
		logger.Errorf("[sql] "+msg, data...)
	}
}

func (s *sqlLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if s.level <= gorm_logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm_logger.ErrRecordNotFound) && s.level >= gorm_logger.Error:
		statement, rows := fc()
		logger.Errorf("[sql] %v (%s, rows=%d): %s", err, elapsed, rows, statement)
	case elapsed > slowStatement && s.level >= gorm_logger.Warn:
		statement, rows := fc()
		logger.Warnf("[sql] slow statement (%s, rows=%d): %s", elapsed, rows, statement)
	case s.level >= gorm_logger.Info:
		statement, rows := fc()
		logger.Debugf("[sql] (%s, rows=%d) %s", elapsed, rows, statement)
	}
}
