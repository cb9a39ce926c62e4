package logsvc

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/trezcool/masomo-lifecycle/core"
)

// ConsoleLogger writes structured entries through zerolog.
type ConsoleLogger struct {
	zl zerolog.Logger
}

var _ core.Logger = (*ConsoleLogger)(nil)

// NewConsoleLogger logs to w, human-readable when pretty is set (JSON lines otherwise).
func NewConsoleLogger(w io.Writer, pretty, debug bool) *ConsoleLogger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return &ConsoleLogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// expected fmt: msg | error, map[string]interface{}, core.Person
func (l *ConsoleLogger) log(ev *zerolog.Event, msg string, args []interface{}) {
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			ev = ev.Err(a)
		case map[string]interface{}:
			ev = ev.Fields(a)
		case core.Person:
			ev = ev.Str("person_id", a.ID).Str("person_username", a.Username)
		case nil:
		default:
			ev = ev.Interface("extra", a)
		}
	}
	ev.Msg(msg)
}

func (l *ConsoleLogger) Debug(msg string, args ...interface{}) { l.log(l.zl.Debug(), msg, args) }
func (l *ConsoleLogger) Info(msg string, args ...interface{})  { l.log(l.zl.Info(), msg, args) }
func (l *ConsoleLogger) Warn(msg string, args ...interface{})  { l.log(l.zl.Warn(), msg, args) }
func (l *ConsoleLogger) Error(msg string, args ...interface{}) { l.log(l.zl.Error(), msg, args) }

func (l *ConsoleLogger) Fatal(msg string, args ...interface{}) {
	l.log(l.zl.WithLevel(zerolog.FatalLevel), msg, args)
	os.Exit(1)
}

// New returns the logger for conf: Rollbar when a token is configured, the console otherwise.
func New(conf *core.Config) core.Logger {
	console := NewConsoleLogger(os.Stderr, conf.Debug, conf.Debug)
	if conf.RollbarToken == "" || conf.TestMode {
		return console
	}
	return NewRollbarLogger(console, conf)
}
