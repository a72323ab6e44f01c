// SPDX-License-Identifier: Apache-2.0

package zerolog

import (
	"io"
	stdlog "log"
	"os"
	"path"
	"strconv"
	"time"

	loglib "github.com/xataio/relnorm/pkg/log"
	zerologlib "github.com/xataio/relnorm/pkg/log/zerolog"

	"github.com/go-logr/zerologr"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	LogLevel string
	// JSON disables the console writer and emits one JSON object per line.
	JSON bool
	// DisableSampling keeps every trace and debug log.
	DisableSampling bool
	// Out defaults to stderr, keeping stdout for the command output.
	Out io.Writer
}

const (
	traceBurst      = 100
	debugBurst      = 1000
	debugSampleRate = 5
	samplingPeriod  = time.Minute
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.ErrorFieldName = "error.message"
	zerolog.ErrorStackFieldName = "error.stack"
	// the v-level is redundant with the `level` emitted by zerolog
	zerologr.VerbosityFieldName = ""

	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		return path.Base(file) + ":" + strconv.Itoa(line)
	}
}

// SetGlobalLogger routes the stdlib log package and the zerolog global and
// context loggers to the logger, so dependencies log through it too.
func SetGlobalLogger(logger *zerolog.Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	log.Logger = *logger

	zerolog.DefaultContextLogger = logger
}

func NewStdLogger(l *zerolog.Logger) loglib.Logger {
	return zerologlib.NewLogger(l)
}

// NewLogger creates a logger emitting a timestamp, the caller and the error
// stack when there is one. An unknown level logs everything.
//
// Unless disabled, trace and debug levels are sampled since the normalizer
// can log once per row: up to 100 trace logs per minute are kept, and past
// 1000 debug logs per minute only every 5th one is.
func NewLogger(config *Config) *zerolog.Logger {
	// ignore the error, it defaults to no level
	level, _ := zerolog.ParseLevel(config.LogLevel)

	logger := zerolog.New(writer(config)).
		With().
		Timestamp().
		Caller().
		Stack().
		Logger().
		Level(level)
	if !config.DisableSampling {
		logger = logger.Sample(levelSampler())
	}

	return &logger
}

func writer(config *Config) io.Writer {
	out := config.Out
	if out == nil {
		out = os.Stderr
	}
	if config.JSON {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339Nano,
	}
}

func levelSampler() zerolog.LevelSampler {
	return zerolog.LevelSampler{
		TraceSampler: &zerolog.BurstSampler{
			Burst:  traceBurst,
			Period: samplingPeriod,
		},
		DebugSampler: &zerolog.BurstSampler{
			Burst:       debugBurst,
			Period:      samplingPeriod,
			NextSampler: &zerolog.BasicSampler{N: debugSampleRate},
		},
	}
}
