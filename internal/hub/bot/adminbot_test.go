package bot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

func TestShareMode(t *testing.T) {
	cases := []struct {
		tag  string
		want string
	}{
		{"<++ V:1,M:A,H:1/0/0,S:2>", "A"},
		{"<++ V:1,M:P,H:1/0/0,S:2>", "P"},
		{"<++ V:1,H:1/0/0,S:2>", ""},
		{"", ""},
		{"<++ M:5>", "5"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, shareMode(tc.tag), tc.tag)
	}
}

func TestYesNo(t *testing.T) {
	assert.Equal(t, "yes", yesNo(true))
	assert.Equal(t, "no", yesNo(false))
}

func TestFormatHistoryRow(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC).Unix()
	ts := "2026-03-14 09:26:53"

	assert.Equal(t, ts+" joined from 10.1.2.3/120",
		formatHistoryRow(store.HistoryRow{
			EventTypeID: models.EventJoin, Time: at, Note: "10.1.2.3/120",
		}))

	assert.Equal(t, ts+" verify by root: verified/good egg",
		formatHistoryRow(store.HistoryRow{
			EventTypeID: models.EventVerify, Time: at,
			NoteByNick: "root", Note: "verified/good egg",
		}))

	assert.Equal(t, ts+" note by root: watch this one",
		formatHistoryRow(store.HistoryRow{
			EventTypeID: models.EventNote, Time: at,
			NoteByNick: "root", Note: "watch this one",
		}))

	assert.Equal(t, ts+" ban by root: added/3600/spam",
		formatHistoryRow(store.HistoryRow{
			EventTypeID: models.EventBan, Time: at,
			NoteByNick: "root", Note: "added/3600/spam",
		}))
}
