package scheduler

import (
	"github.com/charmbracelet/log"
	"github.com/go-co-op/gocron/v2"
)

var _ gocron.Logger = (*gocronLogger)(nil)

// gocronLogger forwards gocron's own messages to charmbracelet/log under the "gocron" prefix.
// Info is logged at debug level; the scheduler already reports job starts and results itself.
type gocronLogger struct {
	log *log.Logger
}

func newGocronLogger(base *log.Logger) *gocronLogger {
	if base == nil {
		base = log.Default()
	}
	return &gocronLogger{log: base.WithPrefix("gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, args...) }
func (l *gocronLogger) Info(msg string, args ...any)  { l.log.Debug(msg, args...) }
func (l *gocronLogger) Warn(msg string, args ...any)  { l.log.Warn(msg, args...) }
func (l *gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, args...) }
