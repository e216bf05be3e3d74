package kit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 64
	logMaxBackups = 7
	logMaxAgeDays = 30
)

// NewLogger builds the production JSON logger tagged with service. When
// file is set, entries are also written to a rotating log file.
func NewLogger(service, file string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.InitialFields = map[string]any{"service": service}

	if file == "" {
		l, err := cfg.Build()
		if err != nil {
			return zap.NewNop()
		}
		return l
	}

	rotating := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	enc := zapcore.NewJSONEncoder(cfg.EncoderConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(rotating), cfg.Level),
		zapcore.NewCore(enc.Clone(), zapcore.Lock(os.Stdout), cfg.Level),
	)

	return zap.New(core, zap.AddCaller()).With(zap.String("service", service))
}
