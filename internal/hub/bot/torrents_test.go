package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nmdchub/nmdchub/pkg/models"
)

func TestRenderTorrentTable(t *testing.T) {
	rows := []models.Torrent{{
		OID:         42,
		AddedTime:   time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC).Unix(),
		Location:    "http://x.example/set.torrent",
		Description: "rare live set",
	}}

	op := renderTorrentTable(rows, true)
	assert.Contains(t, op, "ID")
	assert.Contains(t, op, "42")
	assert.Contains(t, op, "set.torrent")

	user := renderTorrentTable(rows, false)
	assert.Contains(t, user, "set.torrent")
	assert.NotContains(t, user, "ID")
	assert.NotContains(t, user, "42")
}
