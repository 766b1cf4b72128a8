package obs

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   *zap.Logger
)

// LogConfig controls how the process logger is built.
type LogConfig struct {
	Level       string
	Environment string
	Service     string
}

// NewLogger builds a zap logger. Production environments get JSON lines,
// "dev" gets the console encoder.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := levelFromString(cfg.Level)

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Environment, "dev") {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.MessageKey = "msg"
		encCfg.LevelKey = "level"
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encCfg.EncodeDuration = zapcore.MillisDurationEncoder
		encCfg.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(level))
	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if cfg.Service != "" {
		l = l.With(zap.String("service", cfg.Service))
	}
	if cfg.Environment != "" {
		l = l.With(zap.String("environment", cfg.Environment))
	}
	return l, nil
}

// Logger returns the shared structured logger used across the service.
// Until SetLogger is called it is a no-op logger.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	return zap.NewNop()
}

// SetLogger replaces the process logger and returns a func restoring the previous one.
func SetLogger(l *zap.Logger) (restore func()) {
	loggerMu.Lock()
	prev := logger
	logger = l
	loggerMu.Unlock()
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
	}
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
