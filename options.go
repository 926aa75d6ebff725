package signalr

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// StructuredLogger is the simplest logging interface for structured logging.
// See github.com/go-kit/log
type StructuredLogger interface {
	Log(keyVals ...interface{}) error
}

// Logger sets the logger used by the client to log warning and info events.
// If debug is true, debug events (every frame sent and received) are logged, too.
func Logger(logger StructuredLogger, debug bool) func(*client) error {
	return func(c *client) error {
		if logger == nil {
			return &ConfigError{Message: "logger must not be nil"}
		}
		c.warn, c.info, c.dbg = buildLoggers(logger, debug)
		return nil
	}
}

func buildLoggers(logger log.Logger, debug bool) (warn log.Logger, info log.Logger, dbg log.Logger) {
	if debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}
	return level.Warn(logger), level.Info(logger), log.With(level.Debug(logger), "caller", log.DefaultCaller)
}

// log event keys
const (
	evt     = "event"
	msg     = "message"
	react   = "reaction"
	msgRecv = "message received"
	msgSend = "message send"
)
