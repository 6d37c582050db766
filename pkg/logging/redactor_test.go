package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedactingWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewRedactingWriter(&buf, "/tmp/tc", []string{"page-secret-99", ""})

	lines := []string{
		"Authorization: Bearer abc.DEF-123_xyz\n",
		"GET /v21.0/me?fields=id&access_token=EAAGm0PX4ZCps&x=1\n",
		`{"access_token":"tiktok-token","expires_in":86400}` + "\n",
		"using page page-secret-99\n",
		"wrote /tmp/tc/trailercast-1.mp4\n",
	}
	for _, l := range lines {
		n, err := w.Write([]byte(l))
		if err != nil || n != len(l) {
			t.Fatalf("write returned %d, %v", n, err)
		}
	}

	out := buf.String()
	for _, leaked := range []string{"abc.DEF-123_xyz", "EAAGm0PX4ZCps", "tiktok-token", "page-secret-99", "/tmp/tc"} {
		if strings.Contains(out, leaked) {
			t.Errorf("output still contains %q:\n%s", leaked, out)
		}
	}
	for _, want := range []string{"Bearer [REDACTED]", "access_token=[REDACTED]&x=1", `"access_token":"[REDACTED]"`, "[SECRET]", "[TEMP_DIR]/trailercast-1.mp4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
