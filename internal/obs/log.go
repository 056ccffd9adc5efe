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

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// NewJSONCore builds the JSON encoder core used for all service logs.
func NewJSONCore(w zapcore.WriteSyncer, level zapcore.LevelEnabler) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "msg"
	cfg.LevelKey = "level"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level)
}

// InitLogger installs the process logger at the given level (debug, info, warn, error).
func InitLogger(name string) *zap.Logger {
	if err := SetLevel(name); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}
	l := zap.New(NewJSONCore(zapcore.Lock(os.Stdout), level))
	SetLogger(l)
	return l
}

// SetLevel changes the level of the logger built by InitLogger at runtime.
func SetLevel(name string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level reports the current runtime level.
func Level() zapcore.Level {
	return level.Level()
}

// SetLogger replaces the shared logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	return InitLogger("info")
}

// LogRequest emits the request_complete line with common HTTP fields.
func LogRequest(fields ...zap.Field) {
	Logger().Info("request_complete", fields...)
}
