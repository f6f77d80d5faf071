package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLoggerAndHelpers(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer SetLogger(nil)

	WithScan(WithTable("/tmp/t"), "abc").Info("planned", "files", 2)
	out := buf.String()
	assert.Contains(t, out, "table=/tmp/t")
	assert.Contains(t, out, "scan_id=abc")
	assert.Contains(t, out, "files=2")

	buf.Reset()
	WithComponent("replay").Warn("fallback")
	assert.Contains(t, buf.String(), "component=replay")
}

func TestDefaultLoggerIsSilent(t *testing.T) {
	SetLogger(nil)
	l := GetLogger()
	assert.NotNil(t, l)
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
}
