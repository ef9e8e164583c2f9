package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdchub/nmdchub/pkg/models"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{Type: DatabaseTypeMemory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestAccount(t *testing.T, s *Store, nick string) *models.Account {
	t.Helper()
	account := &models.Account{
		Nick:         nick,
		Password:     "secret",
		CreationTime: time.Now().Unix(),
	}
	require.NoError(t, s.CreateAccount(context.Background(), account))
	require.NotZero(t, account.OID)
	return account
}

func TestConfigNormalization(t *testing.T) {
	t.Run("aliases", func(t *testing.T) {
		assert.Equal(t, DatabaseTypeSQLite, normalizeType("preferred"))
		assert.Equal(t, DatabaseTypePostgres, normalizeType("alternate"))
		assert.Equal(t, DatabaseTypeMemory, normalizeType("fallback"))
		assert.Equal(t, DatabaseTypeSQLite, normalizeType(""))
	})

	t.Run("thread safety", func(t *testing.T) {
		assert.False(t, (&Config{Type: DatabaseTypeSQLite}).ThreadSafe())
		assert.False(t, (&Config{Type: DatabaseTypeMemory}).ThreadSafe())
		assert.True(t, (&Config{Type: DatabaseTypePostgres}).ThreadSafe())
	})

	t.Run("postgres validation", func(t *testing.T) {
		cfg := &Config{Type: DatabaseTypePostgres}
		cfg.ApplyDefaults()
		assert.Error(t, cfg.Validate())

		cfg.Postgres.Host = "localhost"
		cfg.Postgres.Database = "hub"
		cfg.Postgres.User = "hub"
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, 5432, cfg.Postgres.Port)
	})
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := createTestStore(t)
		created := createTestAccount(t, s, "alice")

		got, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, created.OID, got.OID)
		assert.Equal(t, "secret", got.Password)
		assert.False(t, got.Op)
		assert.False(t, got.Verified)

		byID, err := s.GetAccountByID(ctx, created.OID)
		require.NoError(t, err)
		assert.Equal(t, "alice", byID.Nick)
	})

	t.Run("duplicate nick", func(t *testing.T) {
		s := createTestStore(t)
		createTestAccount(t, s, "alice")

		err := s.CreateAccount(ctx, &models.Account{Nick: "alice"})
		assert.ErrorIs(t, err, models.ErrDuplicateAccount)
	})

	t.Run("not found", func(t *testing.T) {
		s := createTestStore(t)
		_, err := s.GetAccount(ctx, "ghost")
		assert.ErrorIs(t, err, models.ErrAccountNotFound)

		assert.ErrorIs(t, s.SetOp(ctx, "ghost", true), models.ErrAccountNotFound)
	})

	t.Run("updates", func(t *testing.T) {
		s := createTestStore(t)
		createTestAccount(t, s, "alice")

		require.NoError(t, s.UpdatePassword(ctx, "alice", "hunter2"))
		require.NoError(t, s.SetOp(ctx, "alice", true))
		require.NoError(t, s.SetVerified(ctx, "alice", true))
		require.NoError(t, s.SetArgs(ctx, "alice", models.ArgScriptAccess))

		got, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "hunter2", got.Password)
		assert.True(t, got.Op)
		assert.True(t, got.Verified)
		assert.True(t, got.HasArg(models.ArgScriptAccess))
	})

	t.Run("list ordered by nick", func(t *testing.T) {
		s := createTestStore(t)
		createTestAccount(t, s, "carol")
		createTestAccount(t, s, "alice")
		createTestAccount(t, s, "bob")

		accounts, err := s.ListAccounts(ctx)
		require.NoError(t, err)
		require.Len(t, accounts, 3)
		assert.Equal(t, "alice", accounts[0].Nick)
		assert.Equal(t, "carol", accounts[2].Nick)
	})
}

func TestActiveEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("add update delete", func(t *testing.T) {
		s := createTestStore(t)
		ev := &models.ActiveEvent{
			EventTypeID: models.EventBan,
			Entry:       "%alice",
			Until:       now + 3600,
		}
		require.NoError(t, s.AddActiveEvent(ctx, ev))
		require.NotZero(t, ev.OID)

		require.NoError(t, s.UpdateActiveEventUntil(ctx, models.EventBan, "%alice", now+7200))

		events, err := s.ListActiveEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, now+7200, events[0].Until)

		require.NoError(t, s.DeleteActiveEvent(ctx, models.EventBan, "%alice"))
		events, err = s.ListActiveEvents(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("missing entry", func(t *testing.T) {
		s := createTestStore(t)
		err := s.UpdateActiveEventUntil(ctx, models.EventSilence, "%ghost", now)
		assert.ErrorIs(t, err, models.ErrEventNotFound)
		err = s.DeleteActiveEvent(ctx, models.EventSilence, "%ghost")
		assert.ErrorIs(t, err, models.ErrEventNotFound)
	})

	t.Run("scrub expired", func(t *testing.T) {
		s := createTestStore(t)
		require.NoError(t, s.AddActiveEvent(ctx, &models.ActiveEvent{
			EventTypeID: models.EventBan, Entry: "10.0.0.", Until: now - 10,
		}))
		require.NoError(t, s.AddActiveEvent(ctx, &models.ActiveEvent{
			EventTypeID: models.EventSilence, Entry: "%bob", Until: now + 600,
		}))

		require.NoError(t, s.DeleteExpiredActiveEvents(ctx, now))

		events, err := s.ListActiveEvents(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "%bob", events[0].Entry)
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("join note finalized on disconnect", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")

		join := &models.Event{
			AccountID:   alice.OID,
			EventTypeID: models.EventJoin,
			Time:        now,
			Note:        "10.1.2.3",
		}
		require.NoError(t, s.AppendHistory(ctx, join))
		require.NotZero(t, join.OID)

		require.NoError(t, s.UpdateNote(ctx, join.OID, "10.1.2.3/42"))

		rows, err := s.ListHistory(ctx, alice.OID, nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "10.1.2.3/42", rows[0].Note)
	})

	t.Run("filter and noteby join", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")
		op := createTestAccount(t, s, "op")

		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventJoin, Time: now - 100, Note: "10.1.2.3",
		}))
		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventBan, Time: now - 50,
			NoteBy: &op.OID, Note: "added/3600/flooding",
		}))
		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventNote, Time: now,
			NoteBy: &op.OID, Note: "keep an eye on this one",
		}))

		rows, err := s.ListHistory(ctx, alice.OID, nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		// Newest first.
		assert.Equal(t, models.EventNote, rows[0].EventTypeID)
		assert.Equal(t, "op", rows[0].NoteByNick)
		assert.Equal(t, "", rows[2].NoteByNick)

		bans, err := s.ListHistory(ctx, alice.OID, []int{models.EventBan}, 0, 10)
		require.NoError(t, err)
		require.Len(t, bans, 1)
		assert.Equal(t, "added/3600/flooding", bans[0].Note)

		recent, err := s.ListHistory(ctx, alice.OID, nil, now-60, 10)
		require.NoError(t, err)
		assert.Len(t, recent, 2)

		capped, err := s.ListHistory(ctx, alice.OID, nil, 0, 2)
		require.NoError(t, err)
		assert.Len(t, capped, 2)
	})

	t.Run("ip prefix search", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")
		bob := createTestAccount(t, s, "bob")
		carol := createTestAccount(t, s, "carol")

		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventJoin, Time: now, Note: "10.1.2.3/10",
		}))
		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: bob.OID, EventTypeID: models.EventJoin, Time: now, Note: "10.1.9.9",
		}))
		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: carol.OID, EventTypeID: models.EventJoin, Time: now, Note: "192.168.0.1",
		}))

		nicks, err := s.SearchJoinsByIPPrefix(ctx, "10.1.", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, nicks)

		nicks, err = s.SearchJoinsByIPPrefix(ctx, "10.1.2.", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, nicks)
	})

	t.Run("scrub old history", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")

		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventJoin, Time: now - 1000, Note: "10.1.2.3",
		}))
		require.NoError(t, s.AppendHistory(ctx, &models.Event{
			AccountID: alice.OID, EventTypeID: models.EventJoin, Time: now, Note: "10.1.2.4",
		}))

		removed, err := s.DeleteHistoryBefore(ctx, now-500, []int{models.EventJoin})
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		rows, err := s.ListHistory(ctx, alice.OID, nil, 0, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "10.1.2.4", rows[0].Note)
	})
}

func TestTorrents(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("lifecycle", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")
		op := createTestAccount(t, s, "op")

		torrent := &models.Torrent{
			AddedBy:     alice.OID,
			AddedTime:   now,
			Location:    "http://example.com/file.torrent",
			Description: "a file",
		}
		require.NoError(t, s.CreateTorrent(ctx, torrent))
		require.NotZero(t, torrent.OID)

		pending, err := s.ListPendingTorrents(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		approved, err := s.ListApprovedTorrents(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, approved)

		require.NoError(t, s.ApproveTorrent(ctx, torrent.OID, op.OID, now+1))

		pending, err = s.ListPendingTorrents(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)

		approved, err = s.ListApprovedTorrents(ctx, 0)
		require.NoError(t, err)
		require.Len(t, approved, 1)
		assert.True(t, approved[0].Approved())

		require.NoError(t, s.RemoveTorrent(ctx, torrent.OID))
		approved, err = s.ListApprovedTorrents(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, approved)

		// Row survives removal for the record.
		got, err := s.GetTorrent(ctx, torrent.OID)
		require.NoError(t, err)
		assert.False(t, got.Active)
	})

	t.Run("duplicate location", func(t *testing.T) {
		s := createTestStore(t)
		alice := createTestAccount(t, s, "alice")

		first := &models.Torrent{
			AddedBy: alice.OID, AddedTime: now,
			Location: "http://example.com/file.torrent",
		}
		require.NoError(t, s.CreateTorrent(ctx, first))

		dup := &models.Torrent{
			AddedBy: alice.OID, AddedTime: now,
			Location: "http://example.com/file.torrent",
		}
		assert.ErrorIs(t, s.CreateTorrent(ctx, dup), models.ErrDuplicateTorrent)

		// A removed torrent frees its location for reposting.
		require.NoError(t, s.RemoveTorrent(ctx, first.OID))
		require.NoError(t, s.CreateTorrent(ctx, dup))
	})

	t.Run("approve missing or removed", func(t *testing.T) {
		s := createTestStore(t)
		op := createTestAccount(t, s, "op")
		assert.ErrorIs(t, s.ApproveTorrent(ctx, 999, op.OID, now), models.ErrTorrentNotFound)
	})
}

func TestWorkerSession(t *testing.T) {
	s := createTestStore(t)
	w := s.WorkerSession()
	require.NotNil(t, w)

	createTestAccount(t, s, "alice")
	got, err := w.GetAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Nick)
}
