package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("text")
	SetLevel("WARN")
	t.Cleanup(func() {
		SetLevel("INFO")
		_ = SetOutput("stdout")
	})

	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetWriter(&buf)
	SetFormat("json")
	SetLevel("DEBUG")
	t.Cleanup(func() {
		SetFormat("text")
		SetLevel("INFO")
		_ = SetOutput("stdout")
	})

	Debug("path=%s", "/tmp/a.txt")

	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "path=/tmp/a.txt", entry["msg"])
}
