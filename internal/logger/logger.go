package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	LogFile    = "region_classifier.log"
	MaxLogSize = 5 * 1024 * 1024 // 5MB
)

var (
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	debug  bool
)

// Setup opens the log file at path, rotating it to .bak once it passes
// MaxLogSize. An empty path logs next to the executable.
func Setup(path string) error {
	if path == "" {
		path = defaultLogPath()
	}

	if info, err := os.Stat(path); err == nil && info.Size() > MaxLogSize {
		if err := os.Rename(path, path+".bak"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	mu.Lock()
	if file != nil {
		file.Close()
	}
	file = f
	logger = log.New(f, "", 0)
	mu.Unlock()

	Info("=== session start ===")
	return nil
}

// SetOutput sends log lines to w instead of a file
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = log.New(w, "", 0)
}

// SetDebug toggles Debug output
func SetDebug(enabled bool) {
	mu.Lock()
	debug = enabled
	mu.Unlock()
}

// Close ends the session and closes the log file
func Close() {
	Info("=== session end ===")
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	logger = nil
}

// Info logs an informational line
func Info(format string, args ...interface{}) {
	write("INFO", format, args...)
}

// Warn logs a recoverable problem
func Warn(format string, args ...interface{}) {
	write("WARN", format, args...)
}

// Error logs a failure and, with a file sink, echoes it to stderr
func Error(format string, args ...interface{}) {
	write("ERROR", format, args...)
	mu.Lock()
	toFile := file != nil
	mu.Unlock()
	if toFile {
		fmt.Fprintf(os.Stderr, "[error] %s\n", fmt.Sprintf(format, args...))
	}
}

// Debug logs only when debug output is enabled
func Debug(format string, args ...interface{}) {
	mu.Lock()
	enabled := debug
	mu.Unlock()
	if enabled {
		write("DEBUG", format, args...)
	}
}

func write(level, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("2006-01-02 15:04:05")

	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		logger.Printf("[%s] %s: %s", timestamp, level, msg)
		return
	}
	log.Printf("%s: %s", level, msg)
}

func defaultLogPath() string {
	exe, err := os.Executable()
	if err != nil {
		return LogFile
	}
	return filepath.Join(filepath.Dir(exe), LogFile)
}
