package bot

import (
	"fmt"
	"strings"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/wire"
)

// opChat relays private messages among the online ops. An op may pin a
// target user with `#nick#`; while pinned, that op's lines are also
// delivered to the target, so ops can hold a moderated conversation with a
// user without leaving op chat.
type opChat struct {
	base

	// targets maps op nick to pinned user nick. Rebuilt empty on reload.
	targets map[string]string
}

// NewOpChat builds the op-chat relay bot.
func NewOpChat(h *hub.Hub) hub.Bot {
	return &opChat{
		base: base{
			h:           h,
			nick:        h.Config().OpChatName,
			description: "Operator chat relay.",
			op:          true,
		},
		targets: map[string]string{},
	}
}

func (b *opChat) Attach(h *hub.Hub) error {
	b.h = h
	return h.HookAfter(hub.VerbRemoveUser, b.userRemoved)
}

func (b *opChat) Detach() {
	b.targets = map[string]string{}
}

// userRemoved clears any pin pointing at a departing user and tells the
// pinning op.
func (b *opChat) userRemoved(s *hub.Session, _ wire.Message, _ any) {
	gone := s.Nick()
	if gone == "" {
		return
	}
	for opNick, target := range b.targets {
		if target != gone {
			continue
		}
		delete(b.targets, opNick)
		if op := b.h.SessionByNick(opNick); op != nil {
			b.h.PrivateMessage(op, b.nick,
				fmt.Sprintf("%s disconnected; target cleared.", gone))
		}
	}
}

func (b *opChat) ProcessCommand(from *hub.Session, text string) {
	if !from.IsOp() {
		b.h.PrivateMessage(from, b.nick, "Op chat is for operators only.")
		return
	}

	switch {
	case text == "##":
		delete(b.targets, from.Nick())
		b.h.PrivateMessage(from, b.nick, "Target cleared.")
		return
	case text == "#%#":
		if target, ok := b.targets[from.Nick()]; ok {
			b.h.PrivateMessage(from, b.nick, "Current target: "+target)
		} else {
			b.h.PrivateMessage(from, b.nick, "No target set.")
		}
		return
	case strings.HasPrefix(text, "#") && strings.HasSuffix(text, "#") && len(text) > 2:
		nick := text[1 : len(text)-1]
		target := b.h.SessionByNick(nick)
		if target == nil || target.IsBot() {
			b.h.PrivateMessage(from, b.nick, fmt.Sprintf("%q is not online.", nick))
			return
		}
		b.targets[from.Nick()] = nick
		b.h.PrivateMessage(from, b.nick, "Target set: "+nick)
		return
	}

	b.relay(from, text)
}

// relay fans an op's line out to the other ops, and to the op's pinned
// target when one is set.
func (b *opChat) relay(from *hub.Session, text string) {
	line := fmt.Sprintf("<%s> %s", from.Nick(), text)
	target, pinned := b.targets[from.Nick()]
	if pinned {
		line = fmt.Sprintf("<%s -> %s> %s", from.Nick(), target, text)
	}

	b.h.EachOp(func(op *hub.Session) {
		if op.IsBot() || op == from {
			return
		}
		b.h.PrivateMessage(op, b.nick, line)
	})

	if pinned {
		if ts := b.h.SessionByNick(target); ts != nil {
			b.h.PrivateMessage(ts, b.nick, fmt.Sprintf("<%s> %s", from.Nick(), text))
		} else {
			delete(b.targets, from.Nick())
			b.h.PrivateMessage(from, b.nick, fmt.Sprintf("%s is gone; target cleared.", target))
		}
	}
}
