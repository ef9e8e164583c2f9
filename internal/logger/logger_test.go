package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelMapping(t *testing.T) {
	t.Run("numeric scale", func(t *testing.T) {
		assert.Equal(t, 1, NumericLevel(LevelData))
		assert.Equal(t, 8, NumericLevel(LevelThreading))
		assert.Equal(t, 10, NumericLevel(LevelSQL))
		assert.Equal(t, 20, NumericLevel(slog.LevelInfo))
		assert.Equal(t, 40, NumericLevel(slog.LevelError))
	})

	t.Run("threshold round trip", func(t *testing.T) {
		for _, n := range []int{1, 8, 10, 15, 20, 30, 40} {
			assert.Equal(t, n, NumericLevel(ThresholdFromNumeric(n)), "numeric %d", n)
		}
	})

	t.Run("parse names and numbers", func(t *testing.T) {
		l, ok := ParseLevel("sql")
		require.True(t, ok)
		assert.Equal(t, LevelSQL, l)

		l, ok = ParseLevel("8")
		require.True(t, ok)
		assert.Equal(t, LevelThreading, l)

		_, ok = ParseLevel("chatty")
		assert.False(t, ok)
	})
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "DATA", LevelName(LevelData))
	assert.Equal(t, "THREADING", LevelName(LevelThreading))
	assert.Equal(t, "SQL", LevelName(LevelSQL))
	assert.Equal(t, "WARN", LevelName(slog.LevelWarn))
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("user joined", "nick", "alice", "ip", "1.2.3.4")
	out := buf.String()
	assert.Contains(t, out, "[INFO] user joined")
	assert.Contains(t, out, "nick=alice")
	assert.Contains(t, out, "ip=1.2.3.4")

	buf.Reset()
	Log(LevelSQL, "statement") // below DEBUG threshold
	assert.Empty(t, buf.String())
}

// recordingHandler captures records for fan-out tests.
type recordingHandler struct {
	mu      sync.Mutex
	min     slog.Level
	records []slog.Record
}

func (h *recordingHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.min }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := make([]string, len(h.records))
	for i, r := range h.records {
		msgs[i] = r.Message
	}
	return msgs
}

func TestSecondaryHandlerFanOut(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	h := &recordingHandler{min: LevelData}
	AddHandler(h)
	defer RemoveHandler(h)

	// Below the console level but within the secondary handler's range.
	Log(LevelData, "$Hello alice")
	Info("login complete")

	msgs := h.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "$Hello alice", msgs[0])
	assert.Equal(t, "login complete", msgs[1])

	// Console only saw the INFO record.
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "login complete")

	RemoveHandler(h)
	Log(LevelData, "$Hello bob")
	assert.Len(t, h.messages(), 2)
}
