package hub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
)

// handshakeCommands is the whitelist for a freshly greeted session.
func handshakeCommands() map[string]struct{} {
	return map[string]struct{}{
		"Key":          {},
		"ValidateNick": {},
	}
}

// passwordCommands is the whitelist while awaiting $MyPass.
func passwordCommands() map[string]struct{} {
	return map[string]struct{}{
		"MyPass": {},
	}
}

// joiningCommands is the whitelist between $Hello and the first $MyINFO.
func joiningCommands() map[string]struct{} {
	return map[string]struct{}{
		"Version":     {},
		"GetNickList": {},
		"MyINFO":      {},
	}
}

// activeCommands is the steady-state whitelist. Search and peer-connect
// verbs require verification on restricted hubs; ops additionally get the
// administrative verbs.
func activeCommands(op, allowSearch bool) map[string]struct{} {
	cmds := map[string]struct{}{
		verbChatMessage:    {},
		verbPrivateMessage: {},
		"MyINFO":           {},
		"GetINFO":          {},
		"GetNickList":      {},
		"ConnectToMe":      {},
		"UserIP":           {},
	}
	if op || allowSearch {
		cmds["Search"] = struct{}{}
		cmds["SR"] = struct{}{}
		cmds["RevConnectToMe"] = struct{}{}
	}
	if op {
		cmds["OpForceMove"] = struct{}{}
		cmds["Kick"] = struct{}{}
		cmds["Close"] = struct{}{}
		cmds["ReloadBots"] = struct{}{}
	}
	return cmds
}

// registerHandshakeVerbs installs the login-path verbs and the roster
// removal pseudo-verb.
func (h *Hub) registerHandshakeVerbs() {
	h.registerVerb("Key", h.checkKey, h.giveKey)
	h.registerVerb("ValidateNick", h.checkValidateNick, h.giveValidateNick)
	h.registerVerb("MyPass", nil, h.giveMyPass)
	h.registerVerb("Version", nil, h.giveVersion)
	h.registerVerb("GetNickList", nil, h.giveGetNickList)
	h.registerVerb("MyINFO", h.checkMyINFO, h.giveMyINFO)
	h.registerVerb(verbRemoveUser, nil, nil)
}

func (h *Hub) checkKey(s *Session, msg wire.Message) error {
	expected := wire.KeyFor(s.lock)
	if msg.Args != expected {
		return &Deny{Reason: "bad key", Disconnect: true}
	}
	return nil
}

func (h *Hub) giveKey(s *Session, msg wire.Message) (any, error) {
	s.stage = stageValidating
	return nil, nil
}

func (h *Hub) checkValidateNick(s *Session, msg wire.Message) error {
	nick := msg.Args
	if nick == "" || strings.ContainsAny(nick, " |$<>") {
		s.send(fmt.Sprintf("$ValidateDenide %s|", nick))
		return Denyf("bad nick %q", nick)
	}
	if h.nickBanned(nick) {
		s.send(fmt.Sprintf("$ValidateDenide %s|", nick))
		return &Deny{
			Reason:     "banned nick " + nick,
			Notice:     "You are banned.",
			Disconnect: true,
		}
	}
	if _, taken := h.nicks[nick]; taken {
		// Client may retry with a different nick.
		s.send(fmt.Sprintf("$ValidateDenide %s|", nick))
		return Denyf("nick %q in use", nick)
	}
	if h.cfg.Private && h.accounts[nick] == nil {
		return &Deny{
			Reason:     "unknown account " + nick,
			Notice:     "This hub is private. Ask an operator for an account.",
			Disconnect: true,
		}
	}
	return nil
}

func (h *Hub) giveValidateNick(s *Session, msg wire.Message) (any, error) {
	nick := msg.Args
	account := h.accounts[nick]
	if account == nil {
		var err error
		account, err = h.createAccount(nick)
		if err != nil {
			logger.Error("lazy account creation failed", "nick", nick, "error", err)
			h.securityNotice(s, "Internal error, try again later.")
			h.disconnect(s)
			return nil, nil
		}
	}

	s.nick = nick
	s.accountID = account.OID
	s.op = account.Op
	s.verified = account.Verified

	// Reserve the nick: uniqueness is enforced here, not at login
	// completion.
	h.nicks[nick] = s

	if account.Password != "" {
		s.stage = stageAuthenticating
		s.validCommands = passwordCommands()
		s.send("$GetPass|")
		return nil, nil
	}

	h.hello(s)
	return nil, nil
}

func (h *Hub) giveMyPass(s *Session, msg wire.Message) (any, error) {
	account := h.accountsByID[s.accountID]
	if account == nil || msg.Args != account.Password {
		logger.Info("bad password", "nick", s.nick, "ip", s.ip)
		s.send("$BadPass|")
		h.disconnect(s)
		return nil, nil
	}
	if s.op {
		s.send(fmt.Sprintf("$LogedIn %s|", s.nick))
	}
	h.hello(s)
	return nil, nil
}

// hello moves a validated session to the joining stage.
func (h *Hub) hello(s *Session) {
	s.stage = stageJoining
	s.validCommands = joiningCommands()
	s.send(fmt.Sprintf("$Hello %s|", s.nick))
}

func (h *Hub) giveVersion(s *Session, msg wire.Message) (any, error) {
	logger.Debug("client version", "nick", s.nick, "version", msg.Args)
	return nil, nil
}

func (h *Hub) giveGetNickList(s *Session, msg wire.Message) (any, error) {
	s.send(h.nickList())
	s.send(h.opList())
	return nil, nil
}

// checkMyINFO applies the restricted-hub client policy: a session whose
// tag is missing, advertises the original Neo-Modus client, or has zero
// open slots is rejected and closed.
func (h *Hub) checkMyINFO(s *Session, msg wire.Message) error {
	if !h.cfg.RestrictUnverifiedUsers || s.op {
		return nil
	}
	info, err := parseMyINFO(msg.Args)
	if err != nil {
		return err
	}
	tag := tagOf(info.description)
	switch {
	case tag == "":
		return &Deny{Reason: "missing client tag", Notice: "Your client does not send a tag and is not allowed here.", Disconnect: true}
	case strings.HasPrefix(tag, "<DC "):
		return &Deny{Reason: "neo-modus client", Notice: "The Neo-Modus client is not allowed here. Please upgrade.", Disconnect: true}
	case strings.Contains(tag, ",S:0"):
		return &Deny{Reason: "zero open slots", Notice: "You must have at least one slot open.", Disconnect: true}
	}
	return nil
}

func (h *Hub) giveMyINFO(s *Session, msg wire.Message) (any, error) {
	info, err := parseMyINFO(msg.Args)
	if err != nil {
		logger.Debug("malformed MyINFO", "nick", s.nick, "error", err)
		return nil, nil
	}
	if info.nick != s.nick {
		return nil, nil
	}
	s.description = info.description
	s.tag = tagOf(info.description)
	s.speed = info.speed
	s.email = info.email
	s.shareSize = info.shareSize

	if s.stage == stageJoining {
		h.loginUser(s)
	} else {
		h.broadcast(s.myINFO())
	}
	return nil, nil
}

// myINFOFields is the decomposed client $MyINFO payload.
type myINFOFields struct {
	nick        string
	description string
	speed       string
	email       string
	shareSize   uint64
}

// parseMyINFO decomposes `$ALL <nick> <desc>$ $<speed>$<email>$<share>$`.
func parseMyINFO(args string) (myINFOFields, error) {
	var info myINFOFields
	rest, ok := strings.CutPrefix(args, "$ALL ")
	if !ok {
		return info, &wire.ErrMalformedFrame{Frame: args, Reason: "MyINFO missing $ALL"}
	}
	nick, rest, ok := strings.Cut(rest, " ")
	if !ok {
		return info, &wire.ErrMalformedFrame{Frame: args, Reason: "MyINFO missing fields"}
	}
	parts := strings.Split(rest, "$")
	if len(parts) < 5 {
		return info, &wire.ErrMalformedFrame{Frame: args, Reason: "MyINFO missing fields"}
	}
	info.nick = nick
	info.description = parts[0]
	info.speed = parts[2]
	info.email = parts[3]
	if n, err := strconv.ParseUint(parts[4], 10, 64); err == nil {
		info.shareSize = n
	}
	return info, nil
}

// tagOf extracts the client tag from a description, empty when absent.
func tagOf(description string) string {
	start := strings.LastIndex(description, "<")
	if start < 0 || !strings.HasSuffix(description, ">") {
		return ""
	}
	return description[start:]
}
