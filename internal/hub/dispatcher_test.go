package hub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdchub/nmdchub/internal/wire"
)

func TestHookUnknownVerb(t *testing.T) {
	h := newTestHub(t)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.ErrorIs(t, h.HookBefore("NoSuchVerb", func(s *Session, msg wire.Message) error { return nil }), ErrUnknownVerb)
	assert.ErrorIs(t, h.HookAfter("NoSuchVerb", func(s *Session, msg wire.Message, result any) {}), ErrUnknownVerb)
}

func TestDispatchOrderAndResult(t *testing.T) {
	h := newTestHub(t)
	s, _ := newTestUser(t, h, "alice", false, true)

	var order []string
	h.mu.Lock()
	require.NoError(t, h.HookBefore(VerbChatMessage, func(s *Session, msg wire.Message) error {
		order = append(order, "before")
		return nil
	}))
	require.NoError(t, h.HookAfter(VerbChatMessage, func(s *Session, msg wire.Message, result any) {
		order = append(order, "after")
		// giveChat hands the delivered body to the post-hooks.
		assert.Equal(t, "hi", result)
	}))
	h.mu.Unlock()

	h.feed(s, "<alice> hi")
	assert.Equal(t, []string{"before", "after"}, order)
}

func TestDenyFromPreHookAbortsDispatch(t *testing.T) {
	h := newTestHub(t)
	s, alice := newTestUser(t, h, "alice", false, true)
	_, bob := newTestUser(t, h, "bob", false, true)

	h.mu.Lock()
	require.NoError(t, h.HookBefore(VerbChatMessage, func(s *Session, msg wire.Message) error {
		return &Deny{Reason: "muzzled", Notice: "Not now."}
	}))
	h.mu.Unlock()

	h.feed(s, "<alice> hi")
	assert.Equal(t, "<Hub-Security> Not now.", alice.read(t))

	// The chat line never reached the room.
	h.mu.Lock()
	h.broadcastChat("marker", "end")
	h.mu.Unlock()
	assert.Equal(t, "<marker> end", bob.read(t))
}

func TestWhitelistDropsVerbSilently(t *testing.T) {
	h := newTestHub(t)
	s, _ := newTestUser(t, h, "alice", false, true) // not an op
	sb, _ := newTestUser(t, h, "bob", false, true)

	h.feed(s, "$Kick bob")

	h.mu.Lock()
	assert.Same(t, sb, h.SessionByNick("bob"), "non-op Kick must not reach the handler")
	h.mu.Unlock()
}

func TestStaleGenerationHookSkipped(t *testing.T) {
	h := newTestHub(t)
	s, _ := newTestUser(t, h, "alice", false, true)

	calls := 0
	h.mu.Lock()
	require.NoError(t, h.HookAfter(VerbChatMessage, func(s *Session, msg wire.Message, result any) {
		calls++
	}))
	h.generation++
	h.mu.Unlock()

	h.feed(s, "<alice> hi")
	assert.Equal(t, 0, calls)

	h.mu.Lock()
	h.dropStaleHooks()
	assert.Empty(t, h.verbs[verbChatMessage].after)
	h.mu.Unlock()
}

func TestDenyHelpers(t *testing.T) {
	d := Denyf("bad thing %d", 7)
	assert.Equal(t, "bad thing 7", d.Error())

	got, ok := AsDeny(fmt.Errorf("wrapped: %w", d))
	require.True(t, ok)
	assert.Same(t, d, got)

	_, ok = AsDeny(fmt.Errorf("plain"))
	assert.False(t, ok)
}
