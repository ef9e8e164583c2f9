// Package bot holds the in-process roster participants: the administrative
// bot, the op-chat relay, and the remote-logging bot. Each is rebuilt from
// its factory on $ReloadBots.
package bot

import (
	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/pkg/models"
)

// Factories returns the standard bot set. Order matters only for roster
// announcement.
func Factories() []hub.BotFactory {
	return []hub.BotFactory{
		NewAdvancedBot,
		NewOpChat,
		NewLogBot,
	}
}

// base carries the state every bot shares. Bots embed it and override what
// they need.
type base struct {
	h           *hub.Hub
	nick        string
	description string
	op          bool
}

func (b *base) Nick() string        { return b.nick }
func (b *base) Description() string { return b.description }
func (b *base) Op() bool            { return b.op }

func (b *base) Attach(h *hub.Hub) error {
	b.h = h
	return nil
}

func (b *base) Detach() {}

// reply answers the invoker. Accounts carrying the reply-in-chat tag get
// the answer in main chat; everyone else gets a private message.
func (b *base) reply(to *hub.Session, text string) {
	if a := b.h.AccountByID(to.AccountID()); a != nil && a.HasArg(models.ArgReplyInChat) {
		b.h.BroadcastChat(b.nick, text)
		return
	}
	b.h.PrivateMessage(to, b.nick, text)
}
