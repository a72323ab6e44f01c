// SPDX-License-Identifier: Apache-2.0

package zerolog

import (
	"github.com/rs/zerolog"

	loglib "github.com/xataio/relnorm/pkg/log"
)

// Logger implements the log interface on a zerolog logger. Fields added with
// WithFields are merged into the fields of every event.
type Logger struct {
	zerologger *zerolog.Logger
	fields     loglib.Fields
}

const (
	// rows and raw items can be arbitrarily large, keep the log line readable
	logMaxBytes = 10000
	logMaxItems = 100
)

func NewLogger(zl *zerolog.Logger) *Logger {
	return &Logger{
		zerologger: zl,
	}
}

func (l *Logger) Trace(msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Trace(), msg, fields)
}

func (l *Logger) Debug(msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Info(), msg, fields)
}

func (l *Logger) Warn(err error, msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Warn().Err(err), msg, fields)
}

func (l *Logger) Error(err error, msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Error().Err(err), msg, fields)
}

func (l *Logger) Panic(msg string, fields ...loglib.Fields) {
	l.log(l.zerologger.Panic(), msg, fields)
}

func (l *Logger) WithFields(fields loglib.Fields) loglib.Logger {
	return &Logger{
		zerologger: l.zerologger,
		fields:     loglib.MergeFields(l.fields, fields),
	}
}

// log sends the event with the logger fields, overridden by the call fields.
// Disabled levels return a nil event, skipping the field conversion.
func (l *Logger) log(event *zerolog.Event, msg string, fields []loglib.Fields) {
	if event == nil {
		return
	}
	all := l.fields
	for _, f := range fields {
		all = loglib.MergeFields(all, f)
	}
	event.Fields(truncated(all)).Msg(msg)
}

// truncated shortens the byte and item values of the fields. zerolog takes
// care of encoding every other type.
func truncated(fields loglib.Fields) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case []byte:
			if len(v) > logMaxBytes {
				v = v[:logMaxBytes]
			}
			out[key] = v
		case []any:
			if len(v) > logMaxItems {
				v = v[:logMaxItems]
			}
			out[key] = v
		default:
			out[key] = value
		}
	}
	return out
}
