package hub

import (
	"fmt"

	"github.com/nmdchub/nmdchub/internal/logger"
)

// attachBots instantiates every registered factory and puts the bots on
// the roster. Caller holds the lock.
func (h *Hub) attachBots() error {
	for _, factory := range h.botFactories {
		b := factory(h)
		if b == nil {
			return fmt.Errorf("bot factory returned nil")
		}
		if err := h.addBot(b); err != nil {
			return err
		}
	}
	return nil
}

// addBot indexes a bot in the roster and announces it. Caller holds the
// lock.
func (h *Hub) addBot(b Bot) error {
	nick := b.Nick()
	if _, taken := h.nicks[nick]; taken {
		return fmt.Errorf("bot nick %q already on roster", nick)
	}
	if err := b.Attach(h); err != nil {
		return fmt.Errorf("attaching bot %q: %w", nick, err)
	}

	s := newBotSession(nick, b.Description(), b.Op())
	h.bots[nick] = b
	h.botSessions[nick] = s
	h.nicks[nick] = s
	if s.op {
		h.ops[nick] = s
	}

	h.broadcast(fmt.Sprintf("$Hello %s|", nick))
	h.broadcast(s.myINFO())
	if s.op {
		h.broadcast(h.opList())
	}
	logger.Info("bot attached", "nick", nick, "op", s.op)
	return nil
}

// detachBot releases a bot's resources and removes it from the roster.
// Caller holds the lock.
func (h *Hub) detachBot(nick string) {
	b, ok := h.bots[nick]
	if !ok {
		return
	}
	b.Detach()
	delete(h.bots, nick)
	if s := h.botSessions[nick]; s != nil {
		delete(h.botSessions, nick)
		if h.nicks[nick] == s {
			delete(h.nicks, nick)
			delete(h.ops, nick)
			h.broadcast(fmt.Sprintf("$Quit %s|", nick))
		}
	}
}

// reloadBots rebuilds the bot set from the factories. New instances are
// constructed before anything is torn down, so a failing factory leaves
// the hub running on the prior set. The reload generation is bumped after
// the old bots detach, so any hook closure created by a pre-reload bot is
// skipped by the dispatcher from here on. Everything else — roster,
// punishments, accounts, the task queue — is untouched. Caller holds the
// lock.
func (h *Hub) reloadBots() error {
	fresh := make([]Bot, 0, len(h.botFactories))
	for _, factory := range h.botFactories {
		b := factory(h)
		if b == nil {
			return fmt.Errorf("bot factory returned nil")
		}
		fresh = append(fresh, b)
	}

	old := make([]string, 0, len(h.bots))
	for nick := range h.bots {
		old = append(old, nick)
	}
	for _, nick := range old {
		h.detachBot(nick)
	}

	h.generation++
	h.dropStaleHooks()

	for _, b := range fresh {
		if err := h.addBot(b); err != nil {
			logger.Error("bot re-attach failed", "nick", b.Nick(), "error", err)
			return err
		}
	}
	return nil
}

// BotByNick returns a registered bot, nil if absent. Caller holds the
// lock.
func (h *Hub) BotByNick(nick string) Bot {
	return h.bots[nick]
}
