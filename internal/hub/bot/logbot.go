package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nmdchub/nmdchub/internal/hub"
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
)

// logBot streams the hub's log to subscribed ops as private messages. Each
// subscriber gets a secondary logger handler; the handler writes frames
// straight onto the op's session queue, never touching hub state, so it is
// safe from any goroutine holding or not holding the hub lock.
type logBot struct {
	base

	// handlers maps op nick to the attached log handler.
	handlers map[string]*remoteHandler
}

// NewLogBot builds the remote-logging bot.
func NewLogBot(h *hub.Hub) hub.Bot {
	return &logBot{
		base: base{
			h:           h,
			nick:        h.Config().LogBotName,
			description: "Remote log streaming. Send me \"start\".",
			op:          true,
		},
		handlers: map[string]*remoteHandler{},
	}
}

func (b *logBot) Attach(h *hub.Hub) error {
	b.h = h
	return h.HookAfter(hub.VerbRemoveUser, b.userRemoved)
}

// Detach tears down every subscription. Runs on reload and shutdown.
func (b *logBot) Detach() {
	for nick, handler := range b.handlers {
		logger.RemoveHandler(handler)
		delete(b.handlers, nick)
	}
}

// userRemoved drops the subscription of a departing op.
func (b *logBot) userRemoved(s *hub.Session, _ wire.Message, _ any) {
	if handler, ok := b.handlers[s.Nick()]; ok {
		logger.RemoveHandler(handler)
		delete(b.handlers, s.Nick())
	}
}

func (b *logBot) ProcessCommand(from *hub.Session, text string) {
	if !from.IsOp() {
		b.reply(from, "Remote logging is for operators only.")
		return
	}
	cmd, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	switch strings.ToLower(cmd) {
	case "start":
		b.start(from, arg)
	case "stop":
		b.stop(from)
	case "level":
		b.setLevel(from, arg)
	default:
		b.reply(from, "Commands: start [level], stop, level <n>. Levels: 1=data 8=threading 10=sql 15=debug 20=info 30=warn 40=error.")
	}
}

func (b *logBot) start(from *hub.Session, arg string) {
	threshold := slog.LevelInfo
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil {
			b.reply(from, fmt.Sprintf("Bad level %q.", arg))
			return
		}
		threshold = logger.ThresholdFromNumeric(n)
	}
	if existing, ok := b.handlers[from.Nick()]; ok {
		existing.level.Set(threshold)
		b.reply(from, "Already streaming; level updated to "+logger.LevelName(threshold)+".")
		return
	}
	handler := newRemoteHandler(from, b.nick, threshold)
	b.handlers[from.Nick()] = handler
	logger.AddHandler(handler)
	b.reply(from, "Log streaming started at "+logger.LevelName(threshold)+".")
}

func (b *logBot) stop(from *hub.Session) {
	handler, ok := b.handlers[from.Nick()]
	if !ok {
		b.reply(from, "You are not subscribed.")
		return
	}
	logger.RemoveHandler(handler)
	delete(b.handlers, from.Nick())
	b.reply(from, "Log streaming stopped.")
}

func (b *logBot) setLevel(from *hub.Session, arg string) {
	handler, ok := b.handlers[from.Nick()]
	if !ok {
		b.reply(from, "You are not subscribed. Send \"start [level]\" first.")
		return
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		b.reply(from, fmt.Sprintf("Bad level %q.", arg))
		return
	}
	threshold := logger.ThresholdFromNumeric(n)
	handler.level.Set(threshold)
	b.reply(from, "Level set to "+logger.LevelName(threshold)+".")
}

// reply overrides the base: log-bot answers always go by private message,
// never main chat, so subscribers with the reply-in-chat tag do not spray
// log control chatter into the room.
func (b *logBot) reply(to *hub.Session, text string) {
	b.h.PrivateMessage(to, b.nick, text)
}

// remoteHandler turns log records into private-message frames on one op's
// session. Frames produced by the handler are themselves logged at the data
// level when sent; Handle drops data records that carry the bot's own
// From: marker to break that loop.
type remoteHandler struct {
	session *hub.Session
	botNick string
	level   *slog.LevelVar
	attrs   []slog.Attr
}

var _ slog.Handler = (*remoteHandler)(nil)

func newRemoteHandler(s *hub.Session, botNick string, threshold slog.Level) *remoteHandler {
	level := new(slog.LevelVar)
	level.Set(threshold)
	return &remoteHandler{session: s, botNick: botNick, level: level}
}

func (h *remoteHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *remoteHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(logger.LevelName(r.Level))
	sb.WriteString("] ")
	sb.WriteString(r.Message)

	loopMarker := "From: " + h.botNick
	loop := false
	appendAttr := func(a slog.Attr) {
		sb.WriteString(" ")
		sb.WriteString(a.Key)
		sb.WriteString("=")
		val := a.Value.String()
		sb.WriteString(val)
		if r.Level <= logger.LevelData && a.Key == "frame" && strings.Contains(val, loopMarker) {
			loop = true
		}
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(a)
		return true
	})
	if loop {
		return nil
	}

	frame := fmt.Sprintf("$To: %s From: %s $<%s> %s|",
		h.session.Nick(), h.botNick, h.botNick, wire.Escape(sb.String()))
	h.session.SendFrame(frame)
	return nil
}

func (h *remoteHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *remoteHandler) WithGroup(string) slog.Handler {
	return h
}
