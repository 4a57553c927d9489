/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

// Package logger is the collector wide logging facade over zap.
// Every level has its own zap logger so each can be routed to a different sink.
package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	alwaysLevel     struct{}
	loggerComposite struct {
		debug  *zap.Logger
		debugS *zap.SugaredLogger
		info   *zap.Logger
		infoS  *zap.SugaredLogger
		warn   *zap.Logger
		warnS  *zap.SugaredLogger
		error  *zap.Logger
		errorS *zap.SugaredLogger
	}

	// Options controls where logs go.
	Options struct {
		// Dev adds caller info and colored levels.
		Dev bool
		// Json switches the encoder from console to json.
		Json bool
	}
)

var (
	zapLogger    *loggerComposite
	debugEnabled int32
)

// init installs console loggers, so packages and tests can log before Setup is called
func init() {
	Setup(Options{})
}

func (a alwaysLevel) Enabled(level zapcore.Level) bool {
	return true
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
	c := zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		ConsoleSeparator: " ",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.LowercaseLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
	}
	if dev {
		c.EncodeLevel = zapcore.LowercaseColorLevelEncoder
	}
	return c
}

// Setup rebuilds the loggers. It is called once by the bootstrap after config loading.
func Setup(o Options) {
	newZapLogger := func() *zap.Logger {
		var encoder zapcore.Encoder
		if o.Json {
			encoder = zapcore.NewJSONEncoder(encoderConfig(false))
		} else {
			encoder = zapcore.NewConsoleEncoder(encoderConfig(o.Dev))
		}
		var opts []zap.Option
		if o.Dev {
			opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
		}
		return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), alwaysLevel{}), opts...)
	}

	c := &loggerComposite{
		debug: newZapLogger(),
		info:  newZapLogger(),
		warn:  newZapLogger(),
		error: newZapLogger(),
	}
	c.debugS = c.debug.Sugar()
	c.infoS = c.info.Sugar()
	c.warnS = c.warn.Sugar()
	c.errorS = c.error.Sugar()
	zapLogger = c
}

func SetDebugEnabled(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

func IsDebugEnabled() bool {
	return atomic.LoadInt32(&debugEnabled) == 1
}

func Debugz(msg string, fields ...zap.Field) {
	if IsDebugEnabled() {
		zapLogger.debug.Debug(msg, fields...)
	}
}
func Infoz(msg string, fields ...zap.Field) {
	zapLogger.info.Info(msg, fields...)
}
func Warnz(msg string, fields ...zap.Field) {
	zapLogger.warn.Warn(msg, fields...)
}
func Errorz(msg string, fields ...zap.Field) {
	zapLogger.error.Error(msg, fields...)
}

func Debugw(msg string, keyAndValues ...interface{}) {
	if IsDebugEnabled() {
		zapLogger.debugS.Debugw(msg, keyAndValues...)
	}
}
func Infow(msg string, keyAndValues ...interface{}) {
	zapLogger.infoS.Infow(msg, keyAndValues...)
}
func Warnw(msg string, keyAndValues ...interface{}) {
	zapLogger.warnS.Warnw(msg, keyAndValues...)
}
func Errorw(msg string, keyAndValues ...interface{}) {
	zapLogger.errorS.Errorw(msg, keyAndValues...)
}

func Debugf(msg string, args ...interface{}) {
	if IsDebugEnabled() {
		zapLogger.debugS.Debugf(msg, args...)
	}
}
func Infof(msg string, args ...interface{}) {
	zapLogger.infoS.Infof(msg, args...)
}
func Warnf(msg string, args ...interface{}) {
	zapLogger.warnS.Warnf(msg, args...)
}
func Errorf(msg string, args ...interface{}) {
	zapLogger.errorS.Errorf(msg, args...)
}

// Sync flushes buffered entries, called on shutdown.
func Sync() {
	c := zapLogger
	c.debug.Sync()
	c.info.Sync()
	c.warn.Sync()
	c.error.Sync()
}
