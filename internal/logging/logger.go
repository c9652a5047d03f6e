package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EvalLog represents a single dispatched call (evaluate/complete) entry.
type EvalLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Identifier  string    `json:"identifier"`
	Kind        string    `json:"kind,omitempty"`
	Method      string    `json:"method"`
	Index       int64     `json:"index,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Timeout     bool      `json:"timeout,omitempty"`
	Error       string    `json:"error,omitempty"`
	InputSize   int       `json:"input_size"`
}

// Logger handles per-call request logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an eval log entry.
func (l *Logger) Log(entry *EvalLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "ok"
		if !entry.Success {
			status = "fail"
		}
		flags := ""
		if entry.Interrupted {
			flags += " [interrupted]"
		}
		if entry.Timeout {
			flags += " [timeout]"
		}
		fmt.Printf("[evalgw] %s %s %s.%s %dms%s\n",
			status, entry.Identifier, entry.Kind, entry.Method, entry.DurationMs, flags)
		if entry.Error != "" {
			fmt.Printf("[evalgw]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
