package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = zap.NewNop().Sugar()

// Init builds the process logger. format "console" gives a colored
// development encoder, anything else the production JSON encoder.
func Init(level, format string) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	var zapConfig zap.Config
	if format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = logLevel
	zapConfig.OutputPaths = []string{"stdout"}

	l, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = l.Sugar()
}

// L returns the process logger for injection into components.
func L() *zap.SugaredLogger {
	return sugar
}

func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, keysAndValues...)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Error logs msg with err attached under the "error" key.
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

// Sync flushes buffered entries; call before exit.
func Sync() {
	_ = sugar.Sync()
}
