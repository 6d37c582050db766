package logging

import (
	"io"
	"regexp"
	"strings"
)

type replacement struct {
	re   *regexp.Regexp
	repl string
}

var staticReplacements = []replacement{
	{regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(access_token=)[^&\s"']+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`("(?:access_token|refresh_token)"\s*:\s*")[^"]*(")`), "${1}[REDACTED]${2}"},
}

// RedactingWriter is an io.Writer that redacts tokens and other secrets before
// writing to an underlying writer.
type RedactingWriter struct {
	underlying   io.Writer
	replacements []replacement
}

// NewRedactingWriter creates a writer that masks bearer tokens, access_token values, every
// literal in secrets and the tempDir path.
func NewRedactingWriter(w io.Writer, tempDir string, secrets []string) io.Writer {
	reps := append([]replacement(nil), staticReplacements...)

	for _, s := range secrets {
		if strings.TrimSpace(s) == "" {
			continue
		}
		reps = append(reps, replacement{regexp.MustCompile(regexp.QuoteMeta(s)), "[SECRET]"})
	}
	if tempDir != "" {
		sanitizedPath := strings.ReplaceAll(regexp.QuoteMeta(tempDir), `\\`, `[/\\]`)
		reps = append(reps, replacement{regexp.MustCompile(sanitizedPath), "[TEMP_DIR]"})
	}

	return &RedactingWriter{underlying: w, replacements: reps}
}

// Write redacts p and writes it to the underlying writer.
func (rw *RedactingWriter) Write(p []byte) (n int, err error) {
	message := string(p)
	for _, r := range rw.replacements {
		message = r.re.ReplaceAllString(message, r.repl)
	}
	if _, err := rw.underlying.Write([]byte(message)); err != nil {
		return 0, err
	}
	// The original length is reported so callers see the whole buffer as consumed.
	return len(p), nil
}
