package bot

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
)

func TestRemoteHandler(t *testing.T) {
	seed := seedAccount(models.Account{Nick: "root", Password: "sesame", Op: true, Verified: true})
	h := startHub(t, seed)
	op := dial(t, h)
	op.login(t, "root", "sesame")

	h.Lock()
	s := h.SessionByNick("root")
	h.Unlock()
	require.NotNil(t, s)

	handler := newRemoteHandler(s, "LogBot", slog.LevelInfo)
	ctx := context.Background()

	t.Run("threshold", func(t *testing.T) {
		assert.False(t, handler.Enabled(ctx, slog.LevelDebug))
		assert.True(t, handler.Enabled(ctx, slog.LevelInfo))
		assert.True(t, handler.Enabled(ctx, slog.LevelWarn))

		handler.level.Set(logger.LevelData)
		assert.True(t, handler.Enabled(ctx, logger.LevelData))
		handler.level.Set(slog.LevelInfo)
	})

	t.Run("loop suppression and delivery", func(t *testing.T) {
		// A data record carrying the bot's own From: marker is the echo of a
		// frame this handler sent; it must be dropped.
		rec := slog.NewRecord(time.Now(), logger.LevelData, "data sent", 0)
		rec.AddAttrs(slog.String("frame", "$To: root From: LogBot $<LogBot> x|"))
		require.NoError(t, handler.Handle(ctx, rec))

		rec = slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
		rec.AddAttrs(slog.String("nick", "alice"))
		require.NoError(t, handler.Handle(ctx, rec))

		frame := op.readUntil(t, "$To: root From: LogBot")
		assert.Contains(t, frame, "[INFO] hello nick=alice")
		assert.NotContains(t, frame, "data sent")
	})

	t.Run("with attrs", func(t *testing.T) {
		bound := handler.WithAttrs([]slog.Attr{slog.String("component", "store")})
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "query ran", 0)
		require.NoError(t, bound.Handle(ctx, rec))
		assert.Contains(t, op.readUntil(t, "$To: root From: LogBot"), "component=store")
	})

	t.Run("with group is a no-op", func(t *testing.T) {
		assert.Same(t, handler, handler.WithGroup("db"))
	})
}
