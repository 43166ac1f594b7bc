package logsvc

import (
	"io"
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/convoca/core"
)

// RollbarLogger reports to rollbar and mirrors every event on a std logger.
// Debug events are only mirrored when debug is on.
type RollbarLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std, debug: conf.Debug}
}

// NewDiscardLogger returns a logger that reports nothing. Used by tests.
func NewDiscardLogger() *RollbarLogger {
	rollbar.SetEnabled(false)
	return &RollbarLogger{std: log.New(io.Discard, "", 0)}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// report sends msg to rollbar. args may hold errors, map[string]interface{} extras and one core.Actor,
// which becomes the rollbar person (actor id, role as username).
func (l RollbarLogger) report(level, msg string, args []interface{}) {
	interfaces := make([]interface{}, 0, len(args)+1)
	interfaces = append(interfaces, msg)
	var actor *core.Actor
	for _, arg := range args {
		if a, ok := arg.(core.Actor); ok {
			if actor == nil {
				actor = &a
			}
			continue
		}
		interfaces = append(interfaces, arg)
	}
	if actor != nil {
		rollbar.SetPerson(actor.ID, actor.Role, actor.Email)
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, interfaces...)
}

func (l RollbarLogger) print(msg string, args []interface{}) {
	l.std.Println(msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.report(rollbar.DEBUG, msg, args)
	l.print(msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	l.report(rollbar.INFO, msg, args)
	l.print(msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	l.report(rollbar.WARN, msg, args)
	l.print(msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	l.report(rollbar.ERR, msg, args)
	l.print(msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.report(rollbar.CRIT, msg, args)
	l.print(msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}
