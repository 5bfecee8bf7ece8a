package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]string {
	t.Helper()
	var out []map[string]string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]string
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_WithAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).With("tenant_id", "acme")
	l.Debug("hidden")
	l.With("batch_id", "b1").Info("tenant done", "journeys", 3)

	entries := decode(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "acme", entries[0]["tenant_id"])
	assert.Equal(t, "b1", entries[0]["batch_id"])
	assert.Equal(t, "3", entries[0]["journeys"])
}

func TestLogger_Redaction(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, DEBUG)
	l.Warn("send failed", "to", "john.doe@example.com", "phone", "+1 555 123 4567", "detail", "bounce for ada@example.org")

	e := decode(t, &buf)[0]
	assert.Equal(t, "jo***@example.com", e["to"])
	assert.Equal(t, "***67", e["phone"])
	assert.Equal(t, "bounce for ad***@example.org", e["detail"])
}

func TestLogger_WithRedactPIIOff(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, INFO).WithRedactPII(false)
	l.Info("sent", "to", "john.doe@example.com")
	assert.Equal(t, "john.doe@example.com", decode(t, &buf)[0]["to"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("Error"))
	assert.Equal(t, INFO, ParseLevel("chatty"))
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://redacted@hooks.example.com/in?token=redacted",
		RedactURL("https://bot:pw@hooks.example.com/in?token=abc"))
	assert.Equal(t, "https://hooks.example.com/in", RedactURL("https://hooks.example.com/in"))
	assert.Equal(t, "ad***@example.com", redactPIIValue("note", "ada@example.com"))
}
