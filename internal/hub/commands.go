package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
	"github.com/nmdchub/nmdchub/pkg/models"
)

// connectCheckKey builds the expiring-approval key for a pending reverse
// connect: the unverified requester plus the op that invited them.
func connectCheckKey(requester, op string) string {
	return requester + "\x00" + op
}

// registerCommandVerbs installs the steady-state verb set.
func (h *Hub) registerCommandVerbs() {
	h.registerVerb(verbChatMessage, h.checkChat, h.giveChat)
	h.registerVerb(verbPrivateMessage, nil, h.givePrivateMessage)
	h.registerVerb("GetINFO", nil, h.giveGetINFO)
	h.registerVerb("ConnectToMe", h.checkConnectToMe, h.giveConnectToMe)
	h.registerVerb("RevConnectToMe", nil, h.giveRevConnectToMe)
	h.registerVerb("Search", nil, h.giveSearch)
	h.registerVerb("SR", nil, h.giveSR)
	h.registerVerb("UserIP", nil, h.giveUserIP)
	h.registerVerb("Kick", nil, h.giveKick)
	h.registerVerb("OpForceMove", nil, h.giveOpForceMove)
	h.registerVerb("Close", nil, h.giveClose)
	h.registerVerb("ReloadBots", nil, h.giveReloadBots)
}

// chatBody strips the `<nick> ` prefix the client sent, so the hub always
// rebuilds the line itself and a client cannot speak as someone else.
func chatBody(s *Session, raw string) string {
	if body, ok := strings.CutPrefix(raw, "<"+s.nick+"> "); ok {
		return body
	}
	return raw
}

func (h *Hub) checkChat(s *Session, msg wire.Message) error {
	if entry, silenced := h.activeEntry(models.EventSilence, s); silenced {
		logger.Debug("silenced chat dropped", "nick", s.nick, "entry", entry)
		return &Deny{
			Reason: "silenced",
			Notice: "You are silenced and cannot speak in main chat.",
		}
	}
	return nil
}

// giveChat broadcasts a public chat line, applying the stupidify transform
// when an entry covers the speaker. Returns the delivered body for the
// post-hooks.
func (h *Hub) giveChat(s *Session, msg wire.Message) (any, error) {
	body := wire.Unescape(chatBody(s, msg.Args))
	if _, active := h.activeEntry(models.EventStupidify, s); active {
		body = Stupidify(body, h.cfg.StupidFactor, h.rng)
	}
	h.broadcastChat(s.nick, body)
	return body, nil
}

// givePrivateMessage routes `$To: <to> From: <from> $<<from>> body`.
// Messages to a bot become commands; messages to users are relayed only
// when the receiver is on the roster.
func (h *Hub) givePrivateMessage(s *Session, msg wire.Message) (any, error) {
	to, rest, ok := strings.Cut(msg.Args, " From: ")
	if !ok {
		return nil, nil
	}
	_, rest, ok = strings.Cut(rest, " $")
	if !ok {
		return nil, nil
	}
	// rest is now `<<from>> body`; drop the speaker tag.
	_, body, ok := strings.Cut(rest, "> ")
	if !ok {
		return nil, nil
	}
	body = wire.Unescape(body)

	if bot, isBot := h.bots[to]; isBot {
		logger.Debug("bot command", "bot", to, "from", s.nick)
		bot.ProcessCommand(s, body)
		return body, nil
	}

	receiver := h.nicks[to]
	if receiver == nil || receiver.isBot {
		return nil, nil
	}
	h.PrivateMessage(receiver, s.nick, body)
	return body, nil
}

func (h *Hub) giveGetINFO(s *Session, msg wire.Message) (any, error) {
	fields := msg.Fields(2)
	if len(fields) == 0 {
		return nil, nil
	}
	if target := h.nicks[fields[0]]; target != nil {
		s.send(target.myINFO())
	}
	return nil, nil
}

// checkConnectToMe applies the restricted-hub policy: a non-op may not
// connect to an unverified receiver, and an unverified sender may reach an
// op only inside the window opened by that op's RevConnectToMe.
func (h *Hub) checkConnectToMe(s *Session, msg wire.Message) error {
	if !h.cfg.RestrictUnverifiedUsers {
		return nil
	}
	fields := msg.Fields(2)
	if len(fields) < 2 {
		return Denyf("short ConnectToMe")
	}
	receiver := h.nicks[fields[0]]
	if receiver == nil {
		return Denyf("unknown receiver %q", fields[0])
	}
	if !s.op && !receiver.verified && !receiver.op {
		return &Deny{
			Reason: "receiver unverified",
			Notice: "You cannot connect to unverified users on this hub.",
		}
	}
	if !s.verified && !s.op && receiver.op {
		if _, pending := h.connectChecks.Get(connectCheckKey(s.nick, receiver.nick)); !pending {
			return &Deny{
				Reason: "no pending reverse connect",
				Notice: "You are not verified; wait for the operator to request the connection.",
			}
		}
	}
	return nil
}

func (h *Hub) giveConnectToMe(s *Session, msg wire.Message) (any, error) {
	fields := msg.Fields(2)
	if len(fields) < 2 {
		return nil, nil
	}
	if receiver := h.nicks[fields[0]]; receiver != nil && !receiver.isBot {
		receiver.send(fmt.Sprintf("$ConnectToMe %s %s|", fields[0], fields[1]))
	}
	return nil, nil
}

// giveRevConnectToMe forwards the request, first recording the approval
// window when an op targets an unverified user.
func (h *Hub) giveRevConnectToMe(s *Session, msg wire.Message) (any, error) {
	fields := msg.Fields(2)
	if len(fields) < 2 || fields[0] != s.nick {
		return nil, nil
	}
	receiver := h.nicks[fields[1]]
	if receiver == nil || receiver.isBot {
		return nil, nil
	}
	if h.cfg.RestrictUnverifiedUsers && s.op && !receiver.verified {
		h.connectChecks.Set(connectCheckKey(receiver.nick, s.nick), time.Now(), h.cfg.ConnectCheckTime)
		logger.Debug("reverse connect approval recorded", "op", s.nick, "user", receiver.nick)
	}
	receiver.send(fmt.Sprintf("$RevConnectToMe %s %s|", s.nick, receiver.nick))
	return nil, nil
}

// giveSearch fans a search out to the roster. On restricted hubs only
// verified users (and ops) receive it.
func (h *Hub) giveSearch(s *Session, msg wire.Message) (any, error) {
	frame := "$Search " + msg.Args + "|"
	for _, peer := range h.nicks {
		if peer == s || peer.isBot {
			continue
		}
		if h.cfg.RestrictUnverifiedUsers && !peer.verified && !peer.op {
			continue
		}
		peer.send(frame)
	}
	return nil, nil
}

// giveSR delivers a search result to the single nick named after the 0x05
// separator, which the hub strips before forwarding.
func (h *Hub) giveSR(s *Session, msg wire.Message) (any, error) {
	idx := strings.LastIndexByte(msg.Args, 0x05)
	if idx < 0 {
		return nil, nil
	}
	target := h.nicks[msg.Args[idx+1:]]
	if target == nil || target.isBot {
		return nil, nil
	}
	target.send("$SR " + msg.Args[:idx] + "|")
	return nil, nil
}

// giveUserIP answers with nick→ip pairs. Ops may ask about anyone; a
// regular user only ever gets their own address back.
func (h *Hub) giveUserIP(s *Session, msg wire.Message) (any, error) {
	var b strings.Builder
	for _, nick := range strings.Split(msg.Args, "$$") {
		target := h.nicks[nick]
		if target == nil || target.isBot {
			continue
		}
		if !s.op && target != s {
			continue
		}
		fmt.Fprintf(&b, "%s %s$$", nick, target.ip)
	}
	if b.Len() == 0 {
		return nil, nil
	}
	s.send("$UserIP " + strings.TrimSuffix(b.String(), "$$") + "|")
	return nil, nil
}

func (h *Hub) giveKick(s *Session, msg wire.Message) (any, error) {
	target := h.nicks[msg.Args]
	if target == nil || target.isBot {
		return nil, nil
	}
	logger.Info("user kicked", "nick", target.nick, "by", s.nick)
	h.SecurityBroadcast(fmt.Sprintf("%s was kicked by %s.", target.nick, s.nick))
	h.disconnect(target)
	return target.nick, nil
}

// giveOpForceMove relays `$OpForceMove $Who:<nick>$Where:<host>$Msg:<text>`
// as a $ForceMove to the target, then drops them.
func (h *Hub) giveOpForceMove(s *Session, msg wire.Message) (any, error) {
	var who, where, text string
	for _, part := range strings.Split(msg.Args, "$") {
		switch {
		case strings.HasPrefix(part, "Who:"):
			who = part[len("Who:"):]
		case strings.HasPrefix(part, "Where:"):
			where = part[len("Where:"):]
		case strings.HasPrefix(part, "Msg:"):
			text = part[len("Msg:"):]
		}
	}
	target := h.nicks[who]
	if target == nil || target.isBot || where == "" {
		return nil, nil
	}
	if text != "" {
		h.securityNotice(target, text)
	}
	target.send(fmt.Sprintf("$ForceMove %s|", where))
	h.disconnect(target)
	return who, nil
}

func (h *Hub) giveClose(s *Session, msg wire.Message) (any, error) {
	target := h.nicks[msg.Args]
	if target == nil || target.isBot {
		return nil, nil
	}
	logger.Info("connection closed by op", "nick", target.nick, "by", s.nick)
	h.disconnect(target)
	return target.nick, nil
}

func (h *Hub) giveReloadBots(s *Session, msg wire.Message) (any, error) {
	if !h.cfg.ReloadBots {
		h.securityNotice(s, "Bot reloading is disabled on this hub.")
		return nil, nil
	}
	if err := h.reloadBots(); err != nil {
		h.SecurityBroadcast("Bot reload failed; previous bots remain active.")
		logger.Error("bot reload failed", "by", s.nick, "error", err)
		return nil, nil
	}
	logger.Info("bots reloaded", "by", s.nick, "generation", h.generation)
	return nil, nil
}
