package logger

import (
	"github.com/processlens/backend/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func New(cfg config.LoggerConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoding := cfg.Encoding
	encodeLevel := zapcore.CapitalLevelEncoder
	if encoding == "" {
		encoding = "console"
	}
	if encoding == "console" {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := cfg.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}

	atom := zap.NewAtomicLevelAt(level)
	zapConfig := zap.Config{
		Level:            atom,
		Encoding:         encoding,
		OutputPaths:      outputs,
		ErrorOutputPaths: errOutputs,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
	}

	zapLogger, err := zapConfig.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}

	return &Logger{SugaredLogger: zapLogger.Sugar(), level: atom}, nil
}

// NewNop returns a logger that discards everything; used by tests.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), level: zap.NewAtomicLevel()}
}

// Wrap adapts an existing zap logger, e.g. one from zaptest.
func Wrap(l *zap.Logger) *Logger {
	return &Logger{SugaredLogger: l.Sugar(), level: zap.NewAtomicLevel()}
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(lvl string) error {
	parsed, err := zapcore.ParseLevel(lvl)
	if err != nil {
		return err
	}
	if parsed != l.level.Level() {
		l.level.SetLevel(parsed)
		l.Infow("log_level_changed", "level", parsed.String())
	}
	return nil
}

func (l *Logger) Level() string {
	return l.level.Level().String()
}

func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
