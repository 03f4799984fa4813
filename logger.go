package pio

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// EventLogger writes timestamped events to a file.  It is safe for concurrent
// use.  An EventLogger with an empty path hands events to the standard
// logger instead, and a nil *EventLogger discards them, so components can log
// unconditionally.
type EventLogger struct {
	filePath string
	prefix   string
	mu       *sync.Mutex
}

// NewEventLogger creates a logger writing to filePath.  The file is opened in
// append mode for every event, so it can be rotated externally.
func NewEventLogger(filePath string) *EventLogger {
	return &EventLogger{filePath: filePath, mu: new(sync.Mutex)}
}

// Named returns a logger sharing the same destination whose events are
// prefixed with name.
func (el *EventLogger) Named(name string) *EventLogger {
	if el == nil {
		return nil
	}
	return &EventLogger{filePath: el.filePath, prefix: el.prefix + name + ": ", mu: el.mu}
}

// Log writes a single event with timestamp.  Errors are ignored but printed
// to standard error.
func (el *EventLogger) Log(format string, args ...any) {
	if el == nil {
		return
	}
	msg := el.prefix + fmt.Sprintf(format, args...)
	if el.filePath == "" {
		log.Print(msg)
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	ts := time.Now().Format(time.RFC3339)
	line := fmt.Sprintf("%s - %s\n", ts, msg)
	f, err := os.OpenFile(el.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log error: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "log write error: %v\n", err)
	}
}
