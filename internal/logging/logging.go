// Copyright (c) 2019 Andy Pan
// Copyright (c) 2018 Joshua J Baker
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package logging is the sink-only logging facade the core reactor treats
// as an injected utility. It defines the Logger interface every component
// logs through, plus a default implementation built on zap with a
// lumberjack-backed rotating file sink.
package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors the original Logger.h LogLevel enum ordering so that a
// level comparison can gate formatting cost the same way the macro-based
// original logger did.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Logger is the sink interface every reactor component logs through. The
// core never depends on zap directly — only on this interface — so an
// application can supply any sink that satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

var (
	mu     sync.RWMutex
	level  = int32(LevelInfo)
	logger Logger = newDefaultLogger()
	chores *ants.Pool
)

func init() {
	// Housekeeping pool for ambient chores (rotation sync) that must not
	// run on a reactor loop thread. Small and fire-and-forget.
	chores, _ = ants.NewPool(4, ants.WithNonblocking(true))
}

// SetLogger swaps the package-level default logger. Safe to call before
// the server starts; not safe to race against concurrent log calls.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// SetLevel adjusts the minimum level the package-level functions pass on.
// The check runs before the installed Logger is called, so it applies to a
// custom Logger installed with SetLogger as well; Fatalf is never gated.
func SetLevel(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= atomic.LoadInt32(&level)
}

func get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		get().Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		get().Infof(format, args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		get().Warnf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		get().Errorf(format, args...)
	}
}

func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}

// zapLogger is the default sink: either console output (the default
// logger) or a rotating file sink managed by lumberjack (NewFileLogger).
type zapLogger struct {
	sugar *zap.SugaredLogger
	lj    *lumberjack.Logger
}

func newDefaultLogger() *zapLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(os.Stderr),
		zapcore.DebugLevel,
	)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// NewFileLogger builds a Logger that writes newline-delimited JSON to a
// lumberjack-rotated file, the pattern the teacher's go.mod pulls in
// go.uber.org/zap + gopkg.in/natefinch/lumberjack.v2 for.
func NewFileLogger(path string, maxSizeMB, maxBackups, maxAgeDays int) Logger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(lj),
		zapcore.DebugLevel,
	)
	zl := &zapLogger{sugar: zap.New(core).Sugar(), lj: lj}
	zl.scheduleRotationCheck()
	return zl
}

// scheduleRotationCheck submits a single best-effort Sync of the file sink
// to the ambient chores pool instead of spawning a bare goroutine — this is
// background housekeeping, not reactor dispatch, so it has no business on a
// pinned loop thread or in the loop's task queue.
func (z *zapLogger) scheduleRotationCheck() {
	if z.lj == nil || chores == nil {
		return
	}
	_ = chores.Submit(func() {
		_ = z.sugar.Sync()
	})
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }
func (z *zapLogger) Fatalf(format string, args ...interface{}) { z.sugar.Fatalf(format, args...) }
