package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.SugaredLogger
	file   *os.File
)

// Init initialises the global logger with the given minimum level and log
// file path. Lines go to stderr in a plain human-readable format and to the
// file as JSON so operators can review history even when stderr is
// ephemeral. It is safe to call multiple times; the first successful call
// wins.
func Init(level, path string) error {
	mu.Lock()
	defer mu.Unlock()
	initLocked(level, path)
	return nil
}

func initLocked(level, path string) {
	if logger != nil {
		return
	}

	lvl := ParseLevel(level)

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if path == "" {
		path = "pvemigrate.log"
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		// The logger is not usable yet, so warn directly on stderr and
		// continue with stderr-only logging.
		ts := time.Now().UTC().Format(time.RFC3339)
		fmt.Fprintf(os.Stderr, "[%s] WARN failed to open log file %s: %v\n", ts, path, err)
	} else {
		file = f
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(f), lvl))
	}

	logger = zap.New(zapcore.NewTee(cores...)).Sugar()
}

// ParseLevel maps the CLI level selector onto a zap level. Unknown values
// fall back to Info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// L returns the process-wide logger, initialising it on first use if needed.
func L() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		initLocked("info", "")
	}
	return logger
}

// Sync flushes buffered log entries and closes the log file if one is open.
func Sync() {
	mu.Lock()
	defer mu.Unlock()

	if logger != nil {
		_ = logger.Sync()
	}
	if file != nil {
		_ = file.Close()
		file = nil
	}
}
