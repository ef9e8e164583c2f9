package hub

import (
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
)

// Pseudo-verbs for frames that carry no $-verb of their own.
const (
	verbChatMessage    = "_ChatMessage"
	verbPrivateMessage = "_PrivateMessage"
)

// Exported hook points for bots.
const (
	VerbChatMessage    = verbChatMessage
	VerbPrivateMessage = verbPrivateMessage
	VerbRemoveUser     = verbRemoveUser
)

// CheckFunc validates a command. It must not mutate hub state; a rejection
// is returned as *Deny (policy) or another error (protocol failure).
type CheckFunc func(s *Session, msg wire.Message) error

// GiveFunc applies a command's effect and returns a value handed to every
// post-hook.
type GiveFunc func(s *Session, msg wire.Message) (any, error)

// PreHook runs before check/give; returning an error (usually *Deny)
// aborts the dispatch.
type PreHook func(s *Session, msg wire.Message) error

// PostHook runs after give with give's return value.
type PostHook func(s *Session, msg wire.Message, result any)

// hook pairs a callable with the reload generation it was registered
// under. Hooks from a previous generation are skipped, so closures created
// by pre-reload bots can never run against post-reload state.
type hook[F any] struct {
	gen int
	fn  F
}

// verbEntry is the static dispatch record for one verb.
type verbEntry struct {
	check  CheckFunc
	give   GiveFunc
	before []hook[PreHook]
	after  []hook[PostHook]
}

// registerVerb installs the check/give pair for a verb. Called once during
// hub construction; the verb table itself is never mutated afterwards,
// only the hook slices are.
func (h *Hub) registerVerb(verb string, check CheckFunc, give GiveFunc) {
	h.verbs[verb] = &verbEntry{check: check, give: give}
}

// HookBefore registers a pre-hook for a verb under the current reload
// generation. Unknown verbs are rejected so a misspelled registration
// fails loudly at bot attach time.
func (h *Hub) HookBefore(verb string, fn PreHook) error {
	entry, ok := h.verbs[verb]
	if !ok {
		return ErrUnknownVerb
	}
	entry.before = append(entry.before, hook[PreHook]{gen: h.generation, fn: fn})
	return nil
}

// HookAfter registers a post-hook for a verb under the current reload
// generation.
func (h *Hub) HookAfter(verb string, fn PostHook) error {
	entry, ok := h.verbs[verb]
	if !ok {
		return ErrUnknownVerb
	}
	entry.after = append(entry.after, hook[PostHook]{gen: h.generation, fn: fn})
	return nil
}

// dropStaleHooks removes hooks registered under earlier generations.
// Called after a reload bumps the generation.
func (h *Hub) dropStaleHooks() {
	for _, entry := range h.verbs {
		before := entry.before[:0]
		for _, hk := range entry.before {
			if hk.gen == h.generation {
				before = append(before, hk)
			}
		}
		entry.before = before

		after := entry.after[:0]
		for _, hk := range entry.after {
			if hk.gen == h.generation {
				after = append(after, hk)
			}
		}
		entry.after = after
	}
}

// dispatch runs the full command pipeline for one inbound frame. Caller
// holds the hub lock.
//
// Order: whitelist gate, pre-hooks, check, give, post-hooks. A verb outside
// the session's whitelist drops silently; Deny from a hook or check aborts,
// delivering the attached notice (and disconnect) if any.
func (h *Hub) dispatch(s *Session, msg wire.Message) {
	if s.ignoreMessages.Load() {
		return
	}

	entry, ok := h.verbs[msg.Verb]
	if !ok {
		logger.Debug("unknown verb", "verb", msg.Verb, "nick", s.nick, "id", s.id)
		return
	}
	if !s.allows(msg.Verb) {
		logger.Debug("verb not permitted", "verb", msg.Verb, "nick", s.nick, "stage", int(s.stage))
		return
	}

	h.metrics.RecordCommand(msg.Verb)

	for _, hk := range entry.before {
		if hk.gen != h.generation {
			continue
		}
		if err := hk.fn(s, msg); err != nil {
			h.denied(s, msg.Verb, err)
			return
		}
	}

	if entry.check != nil {
		if err := entry.check(s, msg); err != nil {
			h.denied(s, msg.Verb, err)
			return
		}
	}

	var result any
	if entry.give != nil {
		var err error
		result, err = entry.give(s, msg)
		if err != nil {
			logger.Error("command failed", "verb", msg.Verb, "nick", s.nick, "error", err)
			return
		}
	}

	for _, hk := range entry.after {
		if hk.gen != h.generation {
			continue
		}
		hk.fn(s, msg, result)
	}
}

// denied handles a Deny (or protocol error) from the hook or check stage.
func (h *Hub) denied(s *Session, verb string, err error) {
	h.metrics.RecordDenied(verb)
	if d, ok := AsDeny(err); ok {
		logger.Debug("command denied", "verb", verb, "nick", s.nick, "reason", d.Reason)
		if d.Notice != "" {
			h.securityNotice(s, d.Notice)
		}
		if d.Disconnect {
			h.disconnect(s)
		}
		return
	}
	logger.Debug("command rejected", "verb", verb, "nick", s.nick, "error", err)
}
