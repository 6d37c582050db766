package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

// Console manages styled and dynamic CLI output. Messages go to stderr so stdout stays
// clean for --json output.
type Console struct {
	mu         sync.Mutex
	out        io.Writer
	spinner    *spinner
	spinnerMsg string
	isSpinning bool
	isQuiet    bool

	Bold   *color.Color
	Green  *color.Color
	Yellow *color.Color
	Red    *color.Color
	Cyan   *color.Color
	Gray   *color.Color
}

// New creates a new Console.
func New(quiet bool) *Console {
	return &Console{
		out:     os.Stderr,
		isQuiet: quiet,
		Bold:    color.New(color.Bold),
		Green:   color.New(color.FgGreen),
		Yellow:  color.New(color.FgYellow),
		Red:     color.New(color.FgRed),
		Cyan:    color.New(color.FgCyan),
		Gray:    color.New(color.FgHiBlack),
	}
}

// SetOutput redirects console output.
func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = w
}

// Info prints a standard informational message.
func (c *Console) Info(format string, a ...interface{}) {
	c.print(nil, "", format, a...)
}

// Success prints a success message.
func (c *Console) Success(format string, a ...interface{}) {
	c.print(c.Green, "✓ ", format, a...)
}

// Warn prints a warning message.
func (c *Console) Warn(format string, a ...interface{}) {
	c.print(c.Yellow, "! ", format, a...)
}

// Error prints an error message. Errors are shown in quiet mode too.
func (c *Console) Error(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerLocked()
	_, _ = c.Red.Fprintf(c.out, "✗ %s\n", fmt.Sprintf(format, a...))
}

func (c *Console) print(col *color.Color, prefix, format string, a ...interface{}) {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerLocked()
	msg := prefix + fmt.Sprintf(format, a...)
	if col == nil {
		fmt.Fprintln(c.out, msg)
		return
	}
	_, _ = col.Fprintln(c.out, msg)
}

// Table prints rows as aligned columns. The first row is the header.
func (c *Console) Table(rows [][]string) {
	if c.isQuiet || len(rows) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerLocked()
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	_ = tw.Flush()
}

// StartProgress starts a dynamic progress line with a spinner.
func (c *Console) StartProgress(message string) {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopSpinnerLocked()
	c.spinner = newSpinner()
	c.spinnerMsg = message
	c.isSpinning = true

	go func() {
		for {
			c.mu.Lock()
			if !c.isSpinning {
				c.mu.Unlock()
				return
			}
			fmt.Fprintf(c.out, "\r\033[K%s %s", c.Cyan.Sprint(c.spinner.next()), c.spinnerMsg)
			c.mu.Unlock()
			time.Sleep(100 * time.Millisecond)
		}
	}()
}

// UpdateProgress updates the message of the current progress line.
func (c *Console) UpdateProgress(message string) {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSpinning {
		c.spinnerMsg = message
	}
}

// StopProgress stops the progress line.
func (c *Console) StopProgress() {
	if c.isQuiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinnerLocked()
}

// stopSpinnerLocked stops the spinner and clears the current line. c.mu must be held.
func (c *Console) stopSpinnerLocked() {
	if c.isSpinning {
		c.isSpinning = false
		fmt.Fprint(c.out, "\r\033[K")
	}
}

// spinner manages the animation frames for a spinner.
type spinner struct {
	frames []string
	index  int
}

func newSpinner() *spinner {
	return &spinner{
		frames: []string{"⣷", "⣯", "⣟", "⡿", "⢿", "⣻", "⣽", "⣾"},
	}
}

func (s *spinner) next() string {
	frame := s.frames[s.index]
	s.index = (s.index + 1) % len(s.frames)
	return frame
}
