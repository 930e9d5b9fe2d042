// Package logging is the zap-backed implementation of ports.Logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"wakeassist/internal/ports"
)

type Fields map[string]any

// EncodeType selects the line format.
type EncodeType int

const (
	// EncodeTypeConsole writes human readable lines.
	EncodeTypeConsole EncodeType = iota
	// EncodeTypeJson writes one JSON object per line.
	EncodeTypeJson
)

// ParseEncodeType maps a configuration string onto an EncodeType.
func ParseEncodeType(value string) EncodeType {
	if value == "json" {
		return EncodeTypeJson
	}
	return EncodeTypeConsole
}

type Option struct {
	// Hook receives a copy of every encoded line when set.
	Hook        io.Writer
	Mode        string
	ServiceName string
	EncodeType  EncodeType
	// Output replaces stdout as the primary sink.
	Output io.Writer
}

type Logger struct {
	newLogger *zap.Logger
	fields    Fields
}

func NewLogger(opt Option) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "time",
		LevelKey:      "level",
		NameKey:       "service",
		CallerKey:     "tag",
		MessageKey:    "msg",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel:   zapcore.LowercaseLevelEncoder,
		EncodeTime: func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
			encoder.AppendString(t.Format("2006-01-02 15:04:05.000"))
		},
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}

	var encoder zapcore.Encoder
	if opt.EncodeType == EncodeTypeConsole {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var output io.Writer = os.Stdout
	if opt.Output != nil {
		output = opt.Output
	}
	syncers := []zapcore.WriteSyncer{zapcore.AddSync(output)}
	if opt.Hook != nil {
		syncers = append(syncers, zapcore.AddSync(opt.Hook))
	}
	writeSyncer := zapcore.NewMultiWriteSyncer(syncers...)

	// The wrapper adds one frame; report the caller of Infof and friends.
	options := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opt.Mode == "debug" || opt.Mode == "test" {
		level.SetLevel(zap.DebugLevel)
		options = append(options, zap.Development())
	}
	core := zapcore.NewCore(encoder, writeSyncer, level)

	name := opt.ServiceName
	if name == "" {
		name = "wakeassist"
	}
	return &Logger{newLogger: zap.New(core, options...).Named(name)}
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{newLogger: zap.NewNop()}
}

func (l *Logger) clone() *Logger {
	nl := *l
	return &nl
}

func (l *Logger) WithFields(f Fields) *Logger {
	ll := l.clone()
	ll.fields = make(Fields, len(l.fields)+len(f))
	for k, v := range l.fields {
		ll.fields[k] = v
	}
	for k, v := range f {
		ll.fields[k] = v
	}
	return ll
}

// WithSession tags every line with the controller session id.
func (l *Logger) WithSession(id string) ports.Logger {
	return l.WithFields(Fields{"session": id})
}

func (l *Logger) zapFields() []zap.Field {
	if len(l.fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, l.fields[k]))
	}
	return out
}

func (l *Logger) Debugf(format string, v ...any) {
	l.newLogger.Debug(fmt.Sprintf(format, v...), l.zapFields()...)
}

func (l *Logger) Infof(format string, v ...any) {
	l.newLogger.Info(fmt.Sprintf(format, v...), l.zapFields()...)
}

func (l *Logger) Warnf(format string, v ...any) {
	l.newLogger.Warn(fmt.Sprintf(format, v...), l.zapFields()...)
}

// Errorf logs at error level. Development mode does not panic on errors,
// only on DPanic, so this never panics.
func (l *Logger) Errorf(format string, v ...any) {
	l.newLogger.Error(fmt.Sprintf(format, v...), l.zapFields()...)
}

func (l *Logger) Sync() error {
	return l.newLogger.Sync()
}

var _ ports.Logger = (*Logger)(nil)
