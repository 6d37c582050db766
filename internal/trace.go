package trailercast

import (
	"fmt"
	"log"
	"sync"
)

// Trace is the ordered execution log of one publish call. Every line is also written to the
// logger, if one is set.
type Trace struct {
	mu     sync.Mutex
	lines  []string
	logger *log.Logger
	prefix string
}

// NewTrace creates a Trace that mirrors its lines to logger with a "[prefix] " tag.
func NewTrace(logger *log.Logger, prefix string) *Trace {
	return &Trace{logger: logger, prefix: prefix}
}

// Logf appends a formatted line.
func (t *Trace) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
	if t.logger != nil {
		t.logger.Printf("[%s] %s", t.prefix, line)
	}
}

// Lines returns a copy of the lines logged so far.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
