package logger

import (
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The process-wide logger. Every subsystem logs through a module-tagged child
// of this logger so HTTP, realtime and sweep output share one format.
var (
	base  atomic.Pointer[zap.Logger]
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() { // usable before Init runs, e.g. in tests that never configure logging
	base.Store(zap.NewNop())
}

// Init builds the service logger at the requested level. Empty or unknown
// levels fall back to info. Calling Init again swaps the logger atomically,
// so a reload can change the level without racing in-flight writes.
func Init(levelName string) error {
	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(levelName)); err != nil {
		parsed = zapcore.InfoLevel
	}
	level.SetLevel(parsed)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeDuration = zapcore.StringDurationEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(os.Stdout),
		level,
	)
	// Per-chunk and per-message log lines repeat heavily during large
	// transfers; sample repeats past the first hundred per second.
	core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)

	base.Store(zap.New(core,
		zap.ErrorOutput(zapcore.Lock(os.Stderr)),
		zap.Fields(zap.String("service", "dropwire")),
	))
	return nil
}

// Logger returns the current service logger.
func Logger() *zap.Logger {
	return base.Load()
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}
