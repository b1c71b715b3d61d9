package log

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	innerLogger          *Logger
	loggerInitializeOnce sync.Once
)

var zapLevels = [...]zapcore.Level{
	LevelDebug: zap.DebugLevel,
	LevelInfo:  zap.InfoLevel,
	LevelWarn:  zap.WarnLevel,
	LevelError: zap.ErrorLevel,
	LevelFatal: zap.FatalLevel,
}

func (lvl Level) zapLevel() zapcore.Level {
	if int(lvl) < len(zapLevels) {
		return zapLevels[lvl]
	}
	return zap.InfoLevel
}

func levelOf(zl zapcore.Level) Level {
	for lvl, candidate := range zapLevels {
		if candidate == zl {
			return Level(lvl)
		}
	}
	return LevelInfo
}

// Logger is the zap-backed Log. Loggers derived with With or Named share
// the level of their parent.
type Logger struct {
	zapLogger *zap.Logger
	level     zap.AtomicLevel
}

// New builds a JSON production logger writing to stderr. The first logger
// built becomes the process default returned by Provide.
func New(level Level) *Logger {
	atomicLevel := zap.NewAtomicLevelAt(level.zapLevel())
	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "ts"
	encoder.EncodeTime = zapcore.ISO8601TimeEncoder

	zapLogger, err := zap.Config{
		Level:            atomicLevel,
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
		Encoding:         "json",
		EncoderConfig:    encoder,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}.Build()
	if err != nil {
		panic(err)
	}

	logger := &Logger{zapLogger: zapLogger, level: atomicLevel}
	loggerInitializeOnce.Do(func() { innerLogger = logger })
	return logger
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zapLogger: zap.NewNop(), level: zap.NewAtomicLevelAt(zap.FatalLevel)}
}

// Provide returns the process default logger, or a no-op logger when none
// was built yet.
func Provide() *Logger {
	if innerLogger == nil {
		return NewNop()
	}
	return innerLogger
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zapLogger.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zapLogger.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zapLogger.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zapLogger.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.zapLogger.Fatal(msg, fields...) }

func (l *Logger) With(fields ...Field) Log {
	return &Logger{zapLogger: l.zapLogger.With(fields...), level: l.level}
}

// Named tags every entry with the component that produced it.
func (l *Logger) Named(component string) Log {
	return l.With(String("component", component))
}

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level.zapLevel()) }

func (l *Logger) GetLevel() Level { return levelOf(l.level.Level()) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.zapLogger.Sync() }
