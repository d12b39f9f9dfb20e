package database

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// SlowQueryThreshold is the duration above which gorm reports a query as slow.
const SlowQueryThreshold = 500 * time.Millisecond

// zapWriter routes gorm's printf-style output into zap.
type zapWriter struct {
	sugar *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.sugar.Warnf(format, args...)
}

// NewGormLogger reports slow queries and failed statements through log. Lookups that
// find no row are expected control flow and stay silent.
func NewGormLogger(log *zap.Logger) logger.Interface {
	return logger.New(zapWriter{sugar: log.Named("gorm").Sugar()}, logger.Config{
		SlowThreshold:             SlowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
