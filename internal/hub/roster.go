package hub

import (
	"fmt"
	"strings"
	"time"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// Pseudo-verb for roster removal so bots can hook disconnects.
const verbRemoveUser = "_RemoveUser"

// SessionByNick returns the logged-in session for a nick, nil if absent.
// Caller holds the lock.
func (h *Hub) SessionByNick(nick string) *Session {
	return h.nicks[nick]
}

// EachSession visits every accepted session. Caller holds the lock.
func (h *Hub) EachSession(fn func(*Session)) {
	for _, s := range h.sessions {
		fn(s)
	}
}

// EachUser visits every logged-in session, bots excluded. Caller holds the
// lock.
func (h *Hub) EachUser(fn func(*Session)) {
	for _, s := range h.nicks {
		if !s.isBot {
			fn(s)
		}
	}
}

// EachOp visits every logged-in op, bot ops included. Caller holds the lock.
func (h *Hub) EachOp(fn func(*Session)) {
	for _, s := range h.ops {
		fn(s)
	}
}

// nickList renders the $NickList frame for the current roster.
func (h *Hub) nickList() string {
	var b strings.Builder
	b.WriteString("$NickList ")
	for nick := range h.nicks {
		b.WriteString(nick)
		b.WriteString("$$")
	}
	b.WriteString("|")
	return b.String()
}

// opList renders the $OpList frame.
func (h *Hub) opList() string {
	var b strings.Builder
	b.WriteString("$OpList ")
	for nick := range h.ops {
		b.WriteString(nick)
		b.WriteString("$$")
	}
	b.WriteString("|")
	return b.String()
}

// broadcast sends a frame to every logged-in user session.
func (h *Hub) broadcast(frame string) {
	h.metrics.RecordBroadcast()
	for _, s := range h.nicks {
		if s.send(frame) {
			h.metrics.RecordFrameSent()
		}
	}
}

// broadcastChat fans out a chat line from the given speaker.
func (h *Hub) broadcastChat(fromNick, text string) {
	h.broadcast(fmt.Sprintf("<%s> %s|", fromNick, wire.Escape(text)))
}

// BroadcastChat lets a bot speak in main chat. Caller holds the lock.
func (h *Hub) BroadcastChat(fromNick, text string) {
	h.broadcastChat(fromNick, text)
}

// securityNotice sends a Hub-Security chat line to one session.
func (h *Hub) securityNotice(s *Session, text string) {
	s.send(fmt.Sprintf("<%s> %s|", securityNick, wire.Escape(text)))
}

// SecurityBroadcast sends a Hub-Security chat line to everyone.
func (h *Hub) SecurityBroadcast(text string) {
	h.broadcastChat(securityNick, text)
}

// PrivateMessage delivers a private message frame from a nick (user or
// bot) to a session.
func (h *Hub) PrivateMessage(to *Session, fromNick, text string) {
	to.send(fmt.Sprintf("$To: %s From: %s $<%s> %s|",
		to.nick, fromNick, fromNick, wire.Escape(text)))
}

// loginUser completes the handshake: roster indexes, whitelist, post-join
// broadcast. Caller holds the lock; nick uniqueness was enforced at
// ValidateNick.
func (h *Hub) loginUser(s *Session) {
	h.nicks[s.nick] = s
	if s.op {
		h.ops[s.nick] = s
	}
	s.loggedIn = true
	s.stage = stageActive
	s.joinTime = time.Now()
	s.validCommands = activeCommands(s.op, s.verified || !h.cfg.RestrictUnverifiedUsers)

	h.metrics.RecordLogin()
	logger.Info("user logged in", "nick", s.nick, "ip", s.ip, "op", s.op, "verified", s.verified)

	h.broadcast(fmt.Sprintf("$Hello %s|", s.nick))
	if s.op {
		h.broadcast(h.opList())
	}

	s.send(fmt.Sprintf("$HubName %s|", h.cfg.Name))
	if h.cfg.MOTD != "" {
		h.securityNotice(s, h.cfg.MOTD)
	}
	for _, peer := range h.nicks {
		if peer != s {
			s.send(peer.myINFO())
		}
	}
	h.broadcast(s.myINFO())

	h.recordJoin(s)
	h.afterLogin(s)
}

// afterLogin applies the unverified-user policy: Hub-Security notice to the
// joiner, op notification, and the bad-description check.
func (h *Hub) afterLogin(s *Session) {
	if h.cfg.RestrictUnverifiedUsers && !s.verified && !s.op {
		h.securityNotice(s, "You are not verified. Searching and downloading are disabled until an operator verifies you.")
		for _, op := range h.ops {
			if !op.isBot {
				h.PrivateMessage(op, h.cfg.AdvancedBotName,
					fmt.Sprintf("Unverified user joined: %s (%s)", s.nick, s.ip))
			}
		}
	}
	if h.cfg.DescriptionStart != "" && !strings.HasPrefix(s.description, h.cfg.DescriptionStart) {
		for _, op := range h.ops {
			if !op.isBot {
				h.PrivateMessage(op, h.cfg.AdvancedBotName,
					fmt.Sprintf("Bad description on login: %s %q", s.nick, s.description))
			}
		}
	}
}

// removeUser tears a session out of every index and finalizes its join
// history row. Safe to call twice; the second call is a no-op. Caller
// holds the lock.
func (h *Hub) removeUser(s *Session) {
	if _, present := h.sessions[s.id]; !present {
		return
	}

	if entry, ok := h.verbs[verbRemoveUser]; ok {
		for _, hk := range entry.before {
			if hk.gen == h.generation {
				_ = hk.fn(s, wire.Message{Verb: verbRemoveUser})
			}
		}
	}

	delete(h.sessions, s.id)
	if s.nick != "" && h.nicks[s.nick] == s {
		delete(h.nicks, s.nick)
		delete(h.ops, s.nick)
		h.broadcast(fmt.Sprintf("$Quit %s|", s.nick))
	}
	s.ignoreMessages.Store(true)
	s.stage = stageClosed
	s.shutdown()

	h.finalizeJoin(s)
	logger.Debug("session removed", "id", s.id, "nick", s.nick)

	if entry, ok := h.verbs[verbRemoveUser]; ok {
		for _, hk := range entry.after {
			if hk.gen == h.generation {
				hk.fn(s, wire.Message{Verb: verbRemoveUser}, nil)
			}
		}
	}
}

// disconnect closes a session and removes it from the roster immediately.
// Caller holds the lock.
func (h *Hub) disconnect(s *Session) {
	s.ignoreMessages.Store(true)
	h.removeUser(s)
}

// recordJoin appends the type-1 history row for a fresh login. The insert
// runs on the pool; the row id lands back on the session (re-checked for
// liveness under the lock) so finalizeJoin can amend the note at
// disconnect.
func (h *Hub) recordJoin(s *Session) {
	if s.accountID == 0 {
		return
	}
	sid := s.id
	row := &models.Event{
		AccountID:   s.accountID,
		EventTypeID: models.EventJoin,
		Time:        time.Now().Unix(),
		Note:        s.ip,
	}
	h.Submit(func(ws *store.Store) {
		if err := ws.AppendHistory(taskContext(), row); err != nil {
			logger.Error("join history append failed", "nick", s.nick, "error", err)
			return
		}
		if live, ok := h.sessions[sid]; ok && live == s {
			s.joinOID = row.OID
		} else {
			// Session died before the insert landed; close the note now.
			note := fmt.Sprintf("%s/%d", row.Note, int64(time.Since(s.joinTime).Seconds()))
			if err := ws.UpdateNote(taskContext(), row.OID, note); err != nil {
				logger.Error("join note finalize failed", "nick", s.nick, "error", err)
			}
		}
	})
}

// finalizeJoin amends the join row's note with the session duration in
// seconds.
func (h *Hub) finalizeJoin(s *Session) {
	if s.joinOID == 0 {
		return
	}
	oid := s.joinOID
	s.joinOID = 0
	note := fmt.Sprintf("%s/%d", s.ip, int64(time.Since(s.joinTime).Seconds()))
	h.Submit(func(ws *store.Store) {
		if err := ws.UpdateNote(taskContext(), oid, note); err != nil {
			logger.Error("join note update failed", "nick", s.nick, "error", err)
		}
	})
}
