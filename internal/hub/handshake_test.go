package hub

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdchub/nmdchub/internal/wire"
	"github.com/nmdchub/nmdchub/pkg/config"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// keyFromLock answers a $Lock frame.
func keyFromLock(t *testing.T, lockFrame string) string {
	t.Helper()
	rest := strings.TrimPrefix(lockFrame, "$Lock ")
	lock, _, ok := strings.Cut(rest, " ")
	require.True(t, ok, "lock frame %q", lockFrame)
	return wire.KeyFor(lock)
}

// expectClosed asserts the hub dropped the connection.
func expectClosed(t *testing.T, c *client) {
	t.Helper()
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, err := c.r.ReadString('|')
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Fatal("connection still open")
		}
		return
	}
}

func TestHandshakeFreshNick(t *testing.T) {
	h := newTestHub(t, func(c *config.HubConfig) { c.MOTD = "welcome aboard" })
	c := connect(t, h)

	key := keyFromLock(t, c.readUntil(t, "$Lock "))
	c.write(t, fmt.Sprintf("$Key %s|$ValidateNick alice|", key))
	assert.Equal(t, "$Hello alice", c.readUntil(t, "$Hello"))

	c.write(t, "$Version 1,0091|$GetNickList|")
	nickList := c.readUntil(t, "$NickList")
	assert.Contains(t, nickList, "alice$$")
	c.readUntil(t, "$OpList")

	c.write(t, "$MyINFO $ALL alice desc<++ V:1,M:A,H:1/0/0,S:2>$ $DSL$a@b$1234$|")
	assert.Equal(t, "$HubName testhub", c.readUntil(t, "$HubName"))
	assert.Equal(t, "<Hub-Security> welcome aboard", c.readUntil(t, "<Hub-Security>"))
	myinfo := c.readUntil(t, "$MyINFO $ALL alice")
	assert.Equal(t, "$MyINFO $ALL alice desc<++ V:1,M:A,H:1/0/0,S:2>$ $DSL$a@b$1234$", myinfo)

	h.mu.Lock()
	s := h.SessionByNick("alice")
	require.NotNil(t, s)
	assert.True(t, s.LoggedIn())
	assert.Equal(t, uint64(1234), s.ShareSize())
	assert.Equal(t, "<++ V:1,M:A,H:1/0/0,S:2>", s.Tag())
	account := h.Account("alice")
	require.NotNil(t, account, "account created lazily at ValidateNick")
	h.mu.Unlock()
}

func TestHandshakeBadKeyDisconnects(t *testing.T) {
	h := newTestHub(t)
	c := connect(t, h)
	c.readUntil(t, "$Lock ")
	c.write(t, "$Key wrong|")
	expectClosed(t, c)
}

func TestHandshakePasswordFlow(t *testing.T) {
	seed := func(t *testing.T, st *store.Store) {
		require.NoError(t, st.CreateAccount(context.Background(), &models.Account{
			Nick: "root", Password: "sesame", Op: true, Verified: true,
			CreationTime: time.Now().Unix(),
		}))
	}

	t.Run("correct password logs in as op", func(t *testing.T) {
		h := newTestHubSeeded(t, seed)
		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick root|", key))
		assert.Equal(t, "$GetPass", c.readUntil(t, "$GetPass"))
		c.write(t, "$MyPass sesame|")
		assert.Equal(t, "$LogedIn root", c.readUntil(t, "$LogedIn"))
		c.readUntil(t, "$Hello root")
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		h := newTestHubSeeded(t, seed)
		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick root|", key))
		c.readUntil(t, "$GetPass")
		c.write(t, "$MyPass opensesame|")
		assert.Equal(t, "$BadPass", c.readUntil(t, "$BadPass"))
		expectClosed(t, c)
	})
}

func TestValidateNickRejections(t *testing.T) {
	t.Run("nick in use allows retry", func(t *testing.T) {
		h := newTestHub(t)
		first := connect(t, h)
		first.login(t, "alice")

		second := connect(t, h)
		key := keyFromLock(t, second.readUntil(t, "$Lock "))
		second.write(t, fmt.Sprintf("$Key %s|$ValidateNick alice|", key))
		assert.Equal(t, "$ValidateDenide alice", second.readUntil(t, "$ValidateDenide"))

		second.write(t, "$ValidateNick alice2|")
		assert.Equal(t, "$Hello alice2", second.readUntil(t, "$Hello"))
	})

	t.Run("bad characters", func(t *testing.T) {
		h := newTestHub(t)
		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick bad$nick|", key))
		assert.Equal(t, "$ValidateDenide bad$nick", c.readUntil(t, "$ValidateDenide"))
	})

	t.Run("banned nick disconnected", func(t *testing.T) {
		h := newTestHub(t)
		h.mu.Lock()
		h.bans["%eve"] = time.Now().Unix() + 3600
		h.mu.Unlock()

		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick eve|", key))
		c.readUntil(t, "$ValidateDenide")
		expectClosed(t, c)
	})

	t.Run("private hub requires an account", func(t *testing.T) {
		h := newTestHub(t, func(c *config.HubConfig) { c.Private = true })
		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick stranger|", key))
		assert.Contains(t, c.readUntil(t, "<Hub-Security>"), "private")
		expectClosed(t, c)

		h.mu.Lock()
		assert.Nil(t, h.Account("stranger"), "no lazy account on a private hub")
		h.mu.Unlock()
	})
}

func TestBannedIPRejectedAtAccept(t *testing.T) {
	h := newTestHub(t)
	h.mu.Lock()
	// Piped test connections all carry the same pseudo-address.
	h.bans["pipe"] = time.Now().Unix() + 3600
	h.mu.Unlock()

	// The rejection is written synchronously, so the accept path must run
	// concurrently with the reading side of the pipe.
	server, conn := net.Pipe()
	t.Cleanup(func() { _ = conn.Close() })
	go h.handleConn(server)
	c := &client{conn: conn, r: bufio.NewReader(conn)}

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := c.r.ReadString('|')
	require.NoError(t, err)
	assert.Equal(t, "<Hub-Security> You are banned.|", frame)
	expectClosed(t, c)
}

func TestRestrictedClientPolicy(t *testing.T) {
	restricted := func(c *config.HubConfig) { c.RestrictUnverifiedUsers = true }

	start := func(t *testing.T, h *Hub) *client {
		c := connect(t, h)
		key := keyFromLock(t, c.readUntil(t, "$Lock "))
		c.write(t, fmt.Sprintf("$Key %s|$ValidateNick bob|", key))
		c.readUntil(t, "$Hello bob")
		return c
	}

	t.Run("missing tag rejected", func(t *testing.T) {
		h := newTestHub(t, restricted)
		c := start(t, h)
		c.write(t, "$MyINFO $ALL bob plain description$ $DSL$$1234$|")
		assert.Contains(t, c.readUntil(t, "<Hub-Security>"), "tag")
		expectClosed(t, c)
	})

	t.Run("neo-modus client rejected", func(t *testing.T) {
		h := newTestHub(t, restricted)
		c := start(t, h)
		c.write(t, "$MyINFO $ALL bob desc<DC V:1,M:A,H:1/0/0,S:2>$ $DSL$$1234$|")
		assert.Contains(t, c.readUntil(t, "<Hub-Security>"), "Neo-Modus")
		expectClosed(t, c)
	})

	t.Run("zero slots rejected", func(t *testing.T) {
		h := newTestHub(t, restricted)
		c := start(t, h)
		c.write(t, "$MyINFO $ALL bob desc<++ V:1,M:A,H:1/0/0,S:0>$ $DSL$$1234$|")
		assert.Contains(t, c.readUntil(t, "<Hub-Security>"), "slot")
		expectClosed(t, c)
	})

	t.Run("unverified joiner is notified", func(t *testing.T) {
		h := newTestHub(t, restricted)
		c := start(t, h)
		c.write(t, "$MyINFO $ALL bob desc<++ V:1,M:A,H:1/0/0,S:2>$ $DSL$$1234$|")
		assert.Contains(t, c.readUntil(t, "<Hub-Security>"), "not verified")

		h.mu.Lock()
		s := h.SessionByNick("bob")
		require.NotNil(t, s)
		assert.False(t, s.allows("Search"), "unverified user may not search")
		h.mu.Unlock()
	})
}
