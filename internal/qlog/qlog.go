// Package qlog adapts transport.LogEvent/LogField, the sans-IO engine's
// qlog-shaped event stream, onto logrus structured fields.
package qlog

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/age-rs/quic-go/transport"
)

// Attach installs a logrus-backed sink on c, tagged with the connection's
// remote address and source connection ID. Nothing is installed if logger
// is nil or not at debug level, so a production logger at info level pays
// no per-packet formatting cost.
func Attach(logger *logrus.Logger, c *transport.Conn, addr string, scid []byte) {
	if logger == nil || logger.GetLevel() < logrus.DebugLevel {
		return
	}
	entry := logger.WithFields(logrus.Fields{
		"addr": addr,
		"cid":  fmt.Sprintf("%x", scid),
	})
	c.OnLogEvent(func(e transport.LogEvent) {
		logEvent(entry, e)
	})
}

// Detach removes any sink previously installed by Attach.
func Detach(c *transport.Conn) {
	c.OnLogEvent(nil)
}

func logEvent(entry *logrus.Entry, e transport.LogEvent) {
	fields := make(logrus.Fields, len(e.Fields))
	for _, f := range e.Fields {
		if f.Str != "" {
			fields[f.Key] = f.Str
		} else {
			fields[f.Key] = f.Num
		}
	}
	entry.WithTime(e.Time).WithFields(fields).Debug(e.Type)
}
