// Package log wraps a process-wide zap SugaredLogger.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar = zap.NewNop().Sugar()

// Init builds the zap logger from the configured level, format and output directory.
func Init(level, format, outputPath string) {
	var zapConfig zap.Config

	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoding := "json"
	if format == "console" {
		encoding = "console"
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = logLevel
	zapConfig.Encoding = encoding
	zapConfig.OutputPaths = []string{"stdout"}
	if outputPath != "" {
		// also write to <outputPath>/app.log
		_ = os.MkdirAll(outputPath, os.ModePerm)
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, outputPath+"/app.log")
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	sugar = logger.Sugar()
}

// Info logs a message at info level.
func Info(msg string) {
	sugar.Info(msg)
}

// Infof logs a formatted message at info level.
func Infof(template string, args ...interface{}) {
	sugar.Infof(template, args...)
}

// Infow logs a message with key/value pairs at info level.
// Prefer it for anything carrying request context.
func Infow(msg string, keysAndValues ...interface{}) {
	sugar.Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	sugar.Warnf(template, args...)
}

// Warnw logs a message with key/value pairs at warn level.
func Warnw(msg string, keysAndValues ...interface{}) {
	sugar.Warnw(msg, keysAndValues...)
}

// Error logs msg at error level with the error attached.
func Error(msg string, err error) {
	sugar.Errorw(msg, "error", err)
}

func Errorf(template string, args ...interface{}) {
	sugar.Errorf(template, args...)
}

// Errorw logs a message with key/value pairs at error level.
func Errorw(msg string, keysAndValues ...interface{}) {
	sugar.Errorw(msg, keysAndValues...)
}

// Fatal logs msg with the error attached and exits the process.
func Fatal(msg string, err error) {
	sugar.Fatalw(msg, "error", err)
}

func Fatalf(template string, args ...interface{}) {
	sugar.Fatalf(template, args...)
}

// Sync flushes buffered log entries. Call it before the process exits.
func Sync() {
	_ = sugar.Sync()
}
