package hub

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// eventMap returns the in-memory mirror for a punishment type, nil for
// anything else.
func (h *Hub) eventMap(eventTypeID int) map[string]int64 {
	switch eventTypeID {
	case models.EventBan:
		return h.bans
	case models.EventSilence:
		return h.silences
	case models.EventStupidify:
		return h.stupidifies
	default:
		return nil
	}
}

// ParseEntry normalizes a punishment entry argument: `%nick` as-is,
// `<>nick` resolved to that session's current IP, otherwise a dotted IP
// prefix with each octet in [0,255], at most 4 octets, trailing dot
// allowed.
func (h *Hub) ParseEntry(arg string) (string, error) {
	if strings.HasPrefix(arg, "%") {
		if len(arg) == 1 {
			return "", fmt.Errorf("%w: empty nick entry", models.ErrBadArgument)
		}
		return arg, nil
	}
	if strings.HasPrefix(arg, "<>") {
		nick := arg[2:]
		s := h.nicks[nick]
		if s == nil || s.isBot {
			return "", fmt.Errorf("%w: no session for nick %q", models.ErrBadArgument, nick)
		}
		return s.ip, nil
	}
	return parseIPPrefix(arg)
}

// parseIPPrefix validates a dotted prefix like "12.34.56." and returns it
// unchanged.
func parseIPPrefix(arg string) (string, error) {
	trimmed := strings.TrimRight(arg, ".")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty ip prefix", models.ErrBadArgument)
	}
	octets := strings.Split(trimmed, ".")
	if len(octets) > 4 {
		return "", fmt.Errorf("%w: too many octets in %q", models.ErrBadArgument, arg)
	}
	for _, octet := range octets {
		n, err := strconv.Atoi(octet)
		if err != nil || n < 0 || n > 255 || octet != strconv.Itoa(n) {
			return "", fmt.Errorf("%w: bad octet %q in %q", models.ErrBadArgument, octet, arg)
		}
	}
	return arg, nil
}

// ParseDuration parses an integer with an optional s/m/h/d/w/y suffix,
// case-insensitive, into seconds. A bare integer means seconds.
func ParseDuration(arg string) (int64, error) {
	if arg == "" {
		return 0, fmt.Errorf("%w: empty duration", models.ErrBadArgument)
	}
	mult := int64(1)
	num := arg
	switch unicode.ToLower(rune(arg[len(arg)-1])) {
	case 's':
		num = arg[:len(arg)-1]
	case 'm':
		mult, num = 60, arg[:len(arg)-1]
	case 'h':
		mult, num = 3600, arg[:len(arg)-1]
	case 'd':
		mult, num = 86400, arg[:len(arg)-1]
	case 'w':
		mult, num = 604800, arg[:len(arg)-1]
	case 'y':
		mult, num = 31536000, arg[:len(arg)-1]
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: duration %q not parseable", models.ErrBadArgument, arg)
	}
	return n * mult, nil
}

// entryMatches reports whether a punishment entry covers a session: by
// nick for `%` entries, by IP prefix otherwise.
func entryMatches(entry string, s *Session) bool {
	if strings.HasPrefix(entry, "%") {
		return s.nick != "" && entry[1:] == s.nick
	}
	return strings.HasPrefix(s.ip, entry)
}

// activeEntry scans a punishment map for an entry matching the session,
// scrubbing expired rows on the way. Caller holds the lock.
func (h *Hub) activeEntry(eventTypeID int, s *Session) (string, bool) {
	now := time.Now().Unix()
	for entry, until := range h.eventMap(eventTypeID) {
		if until <= now {
			h.expireEntry(eventTypeID, entry)
			continue
		}
		if entryMatches(entry, s) {
			return entry, true
		}
	}
	return "", false
}

// ipBanned reports whether an IP matches any live ban prefix. Expired
// entries found on this path are scrubbed immediately.
func (h *Hub) ipBanned(ip string) (string, bool) {
	now := time.Now().Unix()
	for entry, until := range h.bans {
		if until <= now {
			h.expireEntry(models.EventBan, entry)
			continue
		}
		if !strings.HasPrefix(entry, "%") && strings.HasPrefix(ip, entry) {
			return entry, true
		}
	}
	return "", false
}

// nickBanned reports whether a live `%nick` ban exists, scrubbing an
// expired one on access.
func (h *Hub) nickBanned(nick string) bool {
	entry := "%" + nick
	until, ok := h.bans[entry]
	if !ok {
		return false
	}
	if until <= time.Now().Unix() {
		h.expireEntry(models.EventBan, entry)
		return false
	}
	return true
}

// expireEntry drops one expired punishment from memory and storage.
func (h *Hub) expireEntry(eventTypeID int, entry string) {
	delete(h.eventMap(eventTypeID), entry)
	h.Submit(func(ws *store.Store) {
		if err := ws.DeleteActiveEvent(taskContext(), eventTypeID, entry); err != nil {
			logger.Log(logger.LevelSQL, "expired event delete failed", "type", eventTypeID, "entry", entry, "error", err)
		}
	})
	h.updatePunishmentMetrics()
}

// ApplyPunishment upserts or removes a ban/silence/stupidify. An until at
// or before now means removal. New bans disconnect every matching session
// with a security notice. Returns a short description of what happened for
// the invoking op. Caller holds the lock.
func (h *Hub) ApplyPunishment(eventTypeID int, entry string, until int64, by *models.Account, reason string) string {
	m := h.eventMap(eventTypeID)
	if m == nil {
		return "unknown punishment type"
	}
	now := time.Now().Unix()
	name := models.EventTypeName(eventTypeID)
	_, existed := m[entry]

	var byID *uint
	if by != nil {
		byID = &by.OID
	}
	accountID := h.entryAccountID(entry)

	if until <= now {
		if !existed {
			return fmt.Sprintf("no active %s for %s", name, entry)
		}
		delete(m, entry)
		h.Submit(func(ws *store.Store) {
			if err := ws.DeleteActiveEvent(taskContext(), eventTypeID, entry); err != nil {
				logger.Error("event removal failed", "type", name, "entry", entry, "error", err)
			}
		})
		h.AppendHistory(accountID, eventTypeID, byID, "removed")
		h.updatePunishmentMetrics()
		return fmt.Sprintf("%s removed for %s", name, entry)
	}

	m[entry] = until
	secs := until - now
	if existed {
		h.Submit(func(ws *store.Store) {
			if err := ws.UpdateActiveEventUntil(taskContext(), eventTypeID, entry, until); err != nil {
				logger.Error("event update failed", "type", name, "entry", entry, "error", err)
			}
		})
		h.AppendHistory(accountID, eventTypeID, byID, fmt.Sprintf("updated/%d/%s", secs, reason))
	} else {
		h.Submit(func(ws *store.Store) {
			err := ws.AddActiveEvent(taskContext(), &models.ActiveEvent{
				EventTypeID: eventTypeID, Entry: entry, Until: until,
			})
			if err != nil {
				logger.Error("event insert failed", "type", name, "entry", entry, "error", err)
			}
		})
		h.AppendHistory(accountID, eventTypeID, byID, fmt.Sprintf("added/%d/%s", secs, reason))
	}
	h.updatePunishmentMetrics()

	if eventTypeID == models.EventBan {
		h.disconnectBanned(entry)
	}
	return fmt.Sprintf("%s set for %s until %s", name, entry, time.Unix(until, 0).UTC().Format(time.RFC3339))
}

// disconnectBanned drops every session a new ban entry covers.
func (h *Hub) disconnectBanned(entry string) {
	var doomed []*Session
	for _, s := range h.sessions {
		if !s.isBot && entryMatches(entry, s) {
			doomed = append(doomed, s)
		}
	}
	for _, s := range doomed {
		h.securityNotice(s, "You have been banned.")
		h.SecurityBroadcast(fmt.Sprintf("%s was banned.", s.nick))
		h.disconnect(s)
	}
}

// entryAccountID resolves the history account for a punishment entry:
// the account row for `%nick` entries, zero for IP prefixes.
func (h *Hub) entryAccountID(entry string) uint {
	if strings.HasPrefix(entry, "%") {
		if a := h.accounts[entry[1:]]; a != nil {
			return a.OID
		}
	}
	return 0
}

// scrubExpired removes expired rows for the given punishment types from
// memory and storage. Caller holds the lock.
func (h *Hub) scrubExpired(types ...int) map[int]int {
	now := time.Now().Unix()
	removed := map[int]int{}
	for _, typeID := range types {
		m := h.eventMap(typeID)
		if m == nil {
			continue
		}
		for entry, until := range m {
			if until <= now {
				delete(m, entry)
				removed[typeID]++
			}
		}
	}
	h.Submit(func(ws *store.Store) {
		if err := ws.DeleteExpiredActiveEvents(taskContext(), now); err != nil {
			logger.Error("active event scrub failed", "error", err)
		}
	})
	h.updatePunishmentMetrics()
	return removed
}

// ScrubHistory purges history rows older than the retention horizon.
func (h *Hub) ScrubHistory(types []int) {
	cutoff := time.Now().Add(-h.cfg.HistoryTime).Unix()
	h.Submit(func(ws *store.Store) {
		n, err := ws.DeleteHistoryBefore(taskContext(), cutoff, types)
		if err != nil {
			logger.Error("history scrub failed", "error", err)
			return
		}
		logger.Log(logger.LevelSQL, "history scrubbed", "removed", n)
	})
}

// Scrub is the bot-facing scrub entry: expires the given punishment types
// (all three when empty) and returns per-type removal counts.
func (h *Hub) Scrub(types []int) map[int]int {
	if len(types) == 0 {
		types = models.PunishmentTypes
	}
	return h.scrubExpired(types...)
}

func (h *Hub) updatePunishmentMetrics() {
	h.metrics.SetActivePunishments("ban", len(h.bans))
	h.metrics.SetActivePunishments("silence", len(h.silences))
	h.metrics.SetActivePunishments("stupidify", len(h.stupidifies))
}

// Punishments returns a copy of one punishment map for listings. Caller
// holds the lock.
func (h *Hub) Punishments(eventTypeID int) map[string]int64 {
	m := h.eventMap(eventTypeID)
	out := make(map[string]int64, len(m))
	now := time.Now().Unix()
	for entry, until := range m {
		if until > now {
			out[entry] = until
		}
	}
	return out
}

// Stupidify deterministically garbles a chat message. The transform is a
// function of the message, the factor, and the rng state: shorthand
// substitutions, a few adjacent-character transpositions, trailing
// exclamation marks, and an occasional full case flip.
func Stupidify(message string, factor int, rng *rand.Rand) string {
	if factor < 1 {
		factor = 1
	}
	padded := " " + message + " "
	padded = strings.ReplaceAll(padded, " you ", " u ")
	padded = strings.ReplaceAll(padded, " are ", " r ")
	out := []rune(strings.TrimSpace(padded))
	if len(out) < 2 {
		return string(out) + "!"
	}

	changes := 1 + rng.Intn(len(out))/factor
	for i := 0; i < changes; i++ {
		idx := rng.Intn(len(out) - 1)
		out[idx], out[idx+1] = out[idx+1], out[idx]
	}

	result := string(out) + strings.Repeat("!", changes)
	if rng.Float64() < 0.1 {
		result = swapCase(result)
	}
	return result
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsUpper(r):
			return unicode.ToLower(r)
		case unicode.IsLower(r):
			return unicode.ToUpper(r)
		default:
			return r
		}
	}, s)
}
