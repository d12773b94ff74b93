package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapOptions selects the zap backend configuration.
type ZapOptions struct {
	Level       string
	Development bool
}

// NewZapLogger builds a Logger backed by a zap sugared logger.
// The returned sync func flushes buffered entries and should be deferred by the caller.
func NewZapLogger(options ZapOptions) (Logger, func(), error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, nil, err
	}

	var config zap.Config
	if options.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(toZapLevel(level))

	zapLogger, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, nil, err
	}
	return newZapLogger(zapLogger), func() { _ = zapLogger.Sync() }, nil
}

func newZapLogger(zapLogger *zap.Logger) Logger {
	sugar := zapLogger.Sugar()
	return NewLogger("", LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	})
}

func toZapLevel(level int) zapcore.Level {
	switch level {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
