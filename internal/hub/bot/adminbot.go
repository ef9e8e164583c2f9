package bot

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/olekukonko/tablewriter"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// advancedBot is the administrative bot: punishments, verification, notes,
// history, listings, torrents, passwords, and the restricted query/dump/set
// surface.
type advancedBot struct {
	base
}

// NewAdvancedBot builds the administrative bot for a hub.
func NewAdvancedBot(h *hub.Hub) hub.Bot {
	return &advancedBot{base{
		h:           h,
		nick:        h.Config().AdvancedBotName,
		description: "Hub administration bot. Send me \"help\".",
		op:          true,
	}}
}

func (b *advancedBot) ProcessCommand(from *hub.Session, text string) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "help":
		b.help(from)
	case "password":
		b.password(from, rest)
	case "torrent":
		b.torrent(from, rest)
	default:
		if !from.IsOp() {
			b.reply(from, "Unknown command. Send \"help\" for the command list.")
			return
		}
		b.opCommand(from, cmd, rest)
	}
}

func (b *advancedBot) opCommand(from *hub.Session, cmd, rest string) {
	switch cmd {
	case "ban":
		b.punish(from, models.EventBan, rest)
	case "silence":
		b.punish(from, models.EventSilence, rest)
	case "stupidify":
		b.punish(from, models.EventStupidify, rest)
	case "verify":
		b.verify(from, rest, true)
	case "unverify":
		b.verify(from, rest, false)
	case "note":
		b.note(from, rest)
	case "history":
		b.history(from, rest)
	case "hostname":
		b.hostname(from, rest)
	case "list":
		b.list(from, rest)
	case "getpassword":
		b.getPassword(from, rest)
	case "chat":
		b.h.BroadcastChat(b.nick, rest)
	case "scrub":
		b.scrub(from, rest)
	case "query", "dump", "set":
		b.scriptCommand(from, cmd, rest)
	default:
		b.reply(from, "Unknown command. Send \"help\" for the command list.")
	}
}

func (b *advancedBot) help(from *hub.Session) {
	lines := []string{
		"Commands:",
		"  password <newpass>                 set your account password",
		"  torrent <location> <description>   post a torrent (verified users)",
		"  torrent get                        list approved torrents",
	}
	if from.IsOp() {
		lines = append(lines,
			"  torrent approve <id> | torrent remove <id>",
			"  ban|silence|stupidify <entry> <duration> [reason]",
			"  verify|unverify <nick> [note]",
			"  note <nick> <text>",
			"  history <nick> [typechars] [days]",
			"  hostname <nick>",
			"  list {ip <prefix>|nick <substr>|bans|silences|stupidifies|nicks|users|ops|accounts|unverified}",
			"  getpassword <nick>",
			"  chat <text>",
			"  scrub [typeids]",
		)
	}
	if a := b.h.AccountByID(from.AccountID()); a != nil && a.HasArg(models.ArgScriptAccess) {
		lines = append(lines,
			"  query {accounts|bans|silences|stupidifies|torrents}",
			"  dump <nick>",
			"  set <option> <value>",
		)
	}
	b.reply(from, strings.Join(lines, "\n"))
}

// punish handles ban/silence/stupidify: `<entry> <duration> [reason]`.
func (b *advancedBot) punish(from *hub.Session, eventTypeID int, rest string) {
	fields := strings.SplitN(rest, " ", 3)
	if len(fields) < 2 {
		b.reply(from, fmt.Sprintf("Usage: %s <entry> <duration> [reason]", models.EventTypeName(eventTypeID)))
		return
	}
	entry, err := b.h.ParseEntry(fields[0])
	if err != nil {
		b.reply(from, err.Error())
		return
	}
	secs, err := hub.ParseDuration(fields[1])
	if err != nil {
		b.reply(from, err.Error())
		return
	}
	reason := ""
	if len(fields) == 3 {
		reason = fields[2]
	}
	by := b.h.AccountByID(from.AccountID())
	result := b.h.ApplyPunishment(eventTypeID, entry, time.Now().Unix()+secs, by, reason)
	b.reply(from, result)
}

func (b *advancedBot) verify(from *hub.Session, rest string, verified bool) {
	nick, note, _ := strings.Cut(rest, " ")
	if nick == "" {
		b.reply(from, "Usage: verify <nick> [note]")
		return
	}
	account := b.h.Account(nick)
	if account == nil {
		b.reply(from, fmt.Sprintf("No account for %q.", nick))
		return
	}
	by := b.h.AccountByID(from.AccountID())
	b.h.SetVerified(account, verified, by, note)
	if verified {
		b.reply(from, fmt.Sprintf("%s is now verified.", nick))
	} else {
		b.reply(from, fmt.Sprintf("%s is no longer verified.", nick))
	}
}

func (b *advancedBot) note(from *hub.Session, rest string) {
	nick, text, ok := strings.Cut(rest, " ")
	if !ok || text == "" {
		b.reply(from, "Usage: note <nick> <text>")
		return
	}
	account := b.h.Account(nick)
	if account == nil {
		b.reply(from, fmt.Sprintf("No account for %q.", nick))
		return
	}
	by := b.h.AccountByID(from.AccountID())
	var byID *uint
	if by != nil {
		byID = &by.OID
	}
	b.h.AppendHistory(account.OID, models.EventNote, byID, text)
	b.reply(from, "Note recorded.")
}

// history fetches up to maxhistoryrows rows: `<nick> [typechars] [days]`.
// Typechars are event-type digits; days may be fractional and defaults to
// the retention horizon.
func (b *advancedBot) history(from *hub.Session, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		b.reply(from, "Usage: history <nick> [typechars] [days]")
		return
	}
	account := b.h.Account(fields[0])
	if account == nil {
		b.reply(from, fmt.Sprintf("No account for %q.", fields[0]))
		return
	}

	var types []int
	if len(fields) > 1 {
		for _, c := range fields[1] {
			if c >= '0' && c <= '9' {
				types = append(types, int(c-'0'))
			}
		}
	}

	days := b.h.Config().HistoryTime.Hours() / 24
	if len(fields) > 2 {
		f, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || f <= 0 {
			b.reply(from, fmt.Sprintf("Bad day count %q.", fields[2]))
			return
		}
		days = f
	}
	after := time.Now().Add(-time.Duration(days * 24 * float64(time.Hour))).Unix()
	limit := b.h.Config().MaxHistoryRows

	nick := account.Nick
	accountID := account.OID
	b.h.Submit(func(ws *store.Store) {
		rows, err := ws.ListHistory(taskCtx(), accountID, types, after, limit)
		if err != nil {
			logger.Error("history query failed", "nick", nick, "error", err)
			b.reply(from, "Error fetching history.")
			return
		}
		if len(rows) == 0 {
			b.reply(from, fmt.Sprintf("No history for %s.", nick))
			return
		}
		lines := make([]string, 0, len(rows)+1)
		lines = append(lines, fmt.Sprintf("History for %s:", nick))
		for _, r := range rows {
			lines = append(lines, formatHistoryRow(r))
		}
		b.reply(from, strings.Join(lines, "\n"))
	})
}

func formatHistoryRow(r store.HistoryRow) string {
	ts := time.Unix(r.Time, 0).UTC().Format("2006-01-02 15:04:05")
	switch r.EventTypeID {
	case models.EventJoin:
		return fmt.Sprintf("%s joined from %s", ts, r.Note)
	case models.EventVerify:
		return fmt.Sprintf("%s verify by %s: %s", ts, r.NoteByNick, r.Note)
	case models.EventNote:
		return fmt.Sprintf("%s note by %s: %s", ts, r.NoteByNick, r.Note)
	default:
		return fmt.Sprintf("%s %s by %s: %s", ts, models.EventTypeName(r.EventTypeID), r.NoteByNick, r.Note)
	}
}

// hostname reverse-resolves a session's IP on the pool.
func (b *advancedBot) hostname(from *hub.Session, rest string) {
	target := b.h.SessionByNick(rest)
	if target == nil || target.IsBot() {
		b.reply(from, fmt.Sprintf("No session for %q.", rest))
		return
	}
	nick, ip := target.Nick(), target.IP()
	b.h.Submit(func(ws *store.Store) {
		host, err := resolveHostname(ip)
		if err != nil {
			b.reply(from, fmt.Sprintf("%s (%s): lookup failed: %v", nick, ip, err))
			return
		}
		b.reply(from, fmt.Sprintf("%s (%s): %s", nick, ip, host))
	})
}

// resolveHostname does a PTR lookup against the system resolvers.
func resolveHostname(ip string) (string, error) {
	rev, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", err
	}
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", err
	}
	client := &dns.Client{Timeout: 5 * time.Second}
	msg := new(dns.Msg)
	msg.SetQuestion(rev, dns.TypePTR)
	var lastErr error
	for _, server := range cfg.Servers {
		resp, _, err := client.Exchange(msg, net.JoinHostPort(server, cfg.Port))
		if err != nil {
			lastErr = err
			continue
		}
		for _, answer := range resp.Answer {
			if ptr, ok := answer.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("no PTR record for %s", ip)
}

func (b *advancedBot) list(from *hub.Session, rest string) {
	what, arg, _ := strings.Cut(rest, " ")
	switch strings.ToLower(what) {
	case "ip":
		b.listIP(from, arg)
	case "nick":
		b.listNick(from, arg)
	case "bans":
		b.listPunishments(from, models.EventBan)
	case "silences":
		b.listPunishments(from, models.EventSilence)
	case "stupidifies":
		b.listPunishments(from, models.EventStupidify)
	case "nicks":
		var nicks []string
		b.h.EachUser(func(s *hub.Session) { nicks = append(nicks, s.Nick()) })
		sort.Strings(nicks)
		b.reply(from, "Online: "+strings.Join(nicks, ", "))
	case "users":
		b.listUsers(from)
	case "ops":
		var nicks []string
		b.h.EachOp(func(s *hub.Session) { nicks = append(nicks, s.Nick()) })
		sort.Strings(nicks)
		b.reply(from, "Ops: "+strings.Join(nicks, ", "))
	case "accounts":
		b.listAccounts(from)
	case "unverified":
		b.listUnverified(from)
	default:
		b.reply(from, "Usage: list {ip <prefix>|nick <substr>|bans|silences|stupidifies|nicks|users|ops|accounts|unverified}")
	}
}

// listIP searches join history for nicks seen from an IP prefix.
func (b *advancedBot) listIP(from *hub.Session, prefix string) {
	validated, err := b.h.ParseEntry(prefix)
	if err != nil || strings.HasPrefix(validated, "%") {
		b.reply(from, fmt.Sprintf("Bad ip prefix %q.", prefix))
		return
	}
	b.h.Submit(func(ws *store.Store) {
		nicks, err := ws.SearchJoinsByIPPrefix(taskCtx(), validated, 0)
		if err != nil {
			logger.Error("ip search failed", "prefix", validated, "error", err)
			b.reply(from, "Error searching joins.")
			return
		}
		if len(nicks) == 0 {
			b.reply(from, fmt.Sprintf("No joins from %s.", validated))
			return
		}
		b.reply(from, fmt.Sprintf("Seen from %s: %s", validated, strings.Join(nicks, ", ")))
	})
}

func (b *advancedBot) listNick(from *hub.Session, substr string) {
	if substr == "" {
		b.reply(from, "Usage: list nick <substr>")
		return
	}
	var matches []string
	for _, a := range b.h.Accounts() {
		if strings.Contains(strings.ToLower(a.Nick), strings.ToLower(substr)) {
			matches = append(matches, a.Nick)
		}
	}
	if len(matches) == 0 {
		b.reply(from, fmt.Sprintf("No accounts matching %q.", substr))
		return
	}
	b.reply(from, "Accounts: "+strings.Join(matches, ", "))
}

func (b *advancedBot) listPunishments(from *hub.Session, eventTypeID int) {
	entries := b.h.Punishments(eventTypeID)
	if len(entries) == 0 {
		b.reply(from, fmt.Sprintf("No active %s entries.", models.EventTypeName(eventTypeID)))
		return
	}
	keys := make([]string, 0, len(entries))
	for entry := range entries {
		keys = append(keys, entry)
	}
	sort.Strings(keys)
	lines := []string{fmt.Sprintf("Active %s entries:", models.EventTypeName(eventTypeID))}
	for _, entry := range keys {
		lines = append(lines, fmt.Sprintf("  %s until %s",
			entry, time.Unix(entries[entry], 0).UTC().Format(time.RFC3339)))
	}
	b.reply(from, strings.Join(lines, "\n"))
}

func (b *advancedBot) listUsers(from *hub.Session) {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Nick", "IP", "Op", "Verified", "Share"})
	b.h.EachUser(func(s *hub.Session) {
		table.Append([]string{
			s.Nick(), s.IP(), yesNo(s.IsOp()), yesNo(s.IsVerified()),
			strconv.FormatUint(s.ShareSize(), 10),
		})
	})
	table.Render()
	b.reply(from, buf.String())
}

func (b *advancedBot) listAccounts(from *hub.Session) {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Nick", "Op", "Verified", "Created"})
	for _, a := range b.h.Accounts() {
		table.Append([]string{
			a.Nick, yesNo(a.Op), yesNo(a.Verified),
			time.Unix(a.CreationTime, 0).UTC().Format("2006-01-02"),
		})
	}
	table.Render()
	b.reply(from, buf.String())
}

// listUnverified lists unverified accounts; online ones are annotated with
// their share mode (M: tag field) and BD when the description misses the
// required prefix.
func (b *advancedBot) listUnverified(from *hub.Session) {
	descStart := b.h.Config().DescriptionStart
	var lines []string
	for _, a := range b.h.Accounts() {
		if a.Verified || a.Op {
			continue
		}
		line := "  " + a.Nick
		if s := b.h.SessionByNick(a.Nick); s != nil && !s.IsBot() {
			if mode := shareMode(s.Tag()); mode != "" {
				line += " M:" + mode
			}
			if descStart != "" && !strings.HasPrefix(s.Description(), descStart) {
				line += " BD"
			}
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		b.reply(from, "No unverified accounts.")
		return
	}
	b.reply(from, "Unverified accounts:\n"+strings.Join(lines, "\n"))
}

// shareMode pulls the M: field out of a client tag.
func shareMode(tag string) string {
	idx := strings.Index(tag, "M:")
	if idx < 0 {
		return ""
	}
	mode := tag[idx+2:]
	if end := strings.IndexAny(mode, ",>"); end >= 0 {
		mode = mode[:end]
	}
	return mode
}

func (b *advancedBot) getPassword(from *hub.Session, rest string) {
	account := b.h.Account(rest)
	if account == nil {
		b.reply(from, fmt.Sprintf("No account for %q.", rest))
		return
	}
	if account.Op {
		b.reply(from, "Passwords of operator accounts are not disclosed.")
		return
	}
	if account.Password == "" {
		b.reply(from, fmt.Sprintf("%s has no password set.", account.Nick))
		return
	}
	b.reply(from, fmt.Sprintf("Password for %s: %s", account.Nick, account.Password))
}

func (b *advancedBot) password(from *hub.Session, rest string) {
	if rest == "" {
		b.reply(from, "Usage: password <newpass>")
		return
	}
	account := b.h.AccountByID(from.AccountID())
	if account == nil {
		b.reply(from, "You have no account.")
		return
	}
	b.h.SetPassword(account, rest)
	b.reply(from, "Password updated.")
}

// scrub purges expired punishment rows: all three types by default, or
// the event-type digits given.
func (b *advancedBot) scrub(from *hub.Session, rest string) {
	var types []int
	for _, c := range rest {
		if c >= '0' && c <= '9' {
			types = append(types, int(c-'0'))
		}
	}
	removed := b.h.Scrub(types)
	if len(types) == 0 {
		types = models.PunishmentTypes
	}
	lines := make([]string, 0, len(types))
	for _, typeID := range types {
		lines = append(lines, fmt.Sprintf("%s: %d expired entries removed",
			models.EventTypeName(typeID), removed[typeID]))
	}
	b.reply(from, strings.Join(lines, "\n"))
}

// scriptCommand is the bounded replacement for in-band code execution:
// query/dump/set, gated on the script-access capability tag.
func (b *advancedBot) scriptCommand(from *hub.Session, cmd, rest string) {
	account := b.h.AccountByID(from.AccountID())
	if account == nil || !account.HasArg(models.ArgScriptAccess) {
		b.reply(from, "You do not have script access.")
		return
	}
	switch cmd {
	case "query":
		b.query(from, rest)
	case "dump":
		b.dump(from, rest)
	case "set":
		name, value, ok := strings.Cut(rest, " ")
		if !ok {
			b.reply(from, "Usage: set <option> <value>")
			return
		}
		if err := b.h.SetOption(name, value); err != nil {
			b.reply(from, err.Error())
			return
		}
		b.reply(from, fmt.Sprintf("Option %s updated.", name))
	}
}

func (b *advancedBot) query(from *hub.Session, rest string) {
	switch strings.ToLower(rest) {
	case "accounts":
		b.reply(from, fmt.Sprintf("accounts: %d rows", len(b.h.Accounts())))
	case "bans", "silences", "stupidifies":
		typeID := map[string]int{
			"bans": models.EventBan, "silences": models.EventSilence, "stupidifies": models.EventStupidify,
		}[strings.ToLower(rest)]
		b.reply(from, fmt.Sprintf("%s: %d active entries", rest, len(b.h.Punishments(typeID))))
	case "torrents":
		b.h.Submit(func(ws *store.Store) {
			torrents, err := ws.ListApprovedTorrents(taskCtx(), 0)
			if err != nil {
				b.reply(from, "Error querying torrents.")
				return
			}
			b.reply(from, fmt.Sprintf("torrents: %d approved rows", len(torrents)))
		})
	default:
		b.reply(from, "Usage: query {accounts|bans|silences|stupidifies|torrents}")
	}
}

func (b *advancedBot) dump(from *hub.Session, rest string) {
	account := b.h.Account(rest)
	if account == nil {
		b.reply(from, fmt.Sprintf("No account for %q.", rest))
		return
	}
	b.reply(from, fmt.Sprintf("oid=%d nick=%s op=%t verified=%t args=%q created=%s",
		account.OID, account.Nick, account.Op, account.Verified, account.Args,
		time.Unix(account.CreationTime, 0).UTC().Format(time.RFC3339)))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
