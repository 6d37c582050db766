package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestQuietKeepsErrors(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	c := New(true)
	c.SetOutput(&buf)
	c.Info("hidden")
	c.Warn("hidden")
	c.Error("shown %d", 1)
	if got := buf.String(); got != "✗ shown 1\n" {
		t.Fatalf("got %q", got)
	}
}

func TestTableAlignsColumns(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	c := New(false)
	c.SetOutput(&buf)
	c.Table([][]string{{"BUCKET", "USED"}, {"tiktok_daily", "1/5"}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || strings.Index(lines[0], "USED") != strings.Index(lines[1], "1/5") {
		t.Fatalf("columns not aligned:\n%s", buf.String())
	}
}
