package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	logger.Debug("hidden detail")
	logger.Info("analysis complete", "changes", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden detail")
	assert.Contains(t, out, "analysis complete")
	assert.Contains(t, out, "changes")
}
