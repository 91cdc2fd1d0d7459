package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	BackendSlog = "slog"
	BackendZap  = "zap"
)

// Options selects the backend and destination of the process logger.
type Options struct {
	Backend string // "slog" (default) or "zap"
	JSON    bool
	Debug   bool
	// File, when set, sends output to a size-rotated file instead of Output.
	File       string
	MaxSizeMB  int
	MaxBackups int
	Output     io.Writer
}

// New builds the process logger. The returned closer flushes and closes the
// underlying sink and must be called on shutdown.
func New(o Options) (Logger, func() error, error) {
	out := o.Output
	if out == nil {
		out = os.Stderr
	}
	closer := func() error { return nil }

	if o.File != "" {
		lj := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    orDefault(o.MaxSizeMB, 10),
			MaxBackups: orDefault(o.MaxBackups, 3),
			Compress:   true,
		}
		out = lj
		closer = lj.Close
	}

	switch o.Backend {
	case "", BackendSlog:
		level := slog.LevelInfo
		if o.Debug {
			level = slog.LevelDebug
		}
		if o.JSON {
			return NewJSON(out, level), closer, nil
		}
		return NewText(out, level), closer, nil

	case BackendZap:
		level := zapcore.InfoLevel
		if o.Debug {
			level = zapcore.DebugLevel
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if o.JSON {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		core := zapcore.NewCore(enc, zapcore.AddSync(out), level)
		zl := NewZapLogger(zap.New(core))
		return zl, func() error {
			_ = zl.Sync()
			return closer()
		}, nil
	}

	return nil, nil, fmt.Errorf("unknown log backend %q", o.Backend)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
