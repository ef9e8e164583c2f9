package hub

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
)

// loginStage tracks where a session is in the handshake. Command acceptance
// is gated by validCommands; the stage exists for logging and teardown.
type loginStage int

const (
	stageGreeted loginStage = iota // $Lock sent
	stageValidating                // awaiting $ValidateNick
	stageAuthenticating            // $GetPass sent, awaiting $MyPass
	stageJoining                   // awaiting $Version/$GetNickList/$MyINFO
	stageActive
	stageClosed
)

// sendBuffer is the per-session outbound queue depth. A client that cannot
// drain this many frames is considered dead.
const sendBuffer = 256

// Session is one connected client, or a bot's roster presence. A bot
// session has no conn; writes to it are discarded.
type Session struct {
	id   string
	conn net.Conn
	ip   string

	nick        string
	description string
	tag         string
	speed       string
	email       string
	shareSize   uint64

	op       bool
	verified bool
	loggedIn bool
	isBot    bool

	// ignoreMessages is flipped when the session leaves the roster. It is
	// read off the hub lock by SendFrame, hence atomic.
	ignoreMessages atomic.Bool

	accountID uint

	stage         loginStage
	validCommands map[string]struct{}

	lock    string
	decoder *wire.Decoder

	joinTime time.Time
	joinOID  uint

	out       chan string
	closeOnce sync.Once
	closed    chan struct{}
	writerUp  atomic.Bool
}

// newSession wraps an accepted connection. The idstring is stable for the
// session's lifetime and unique across the process.
func newSession(conn net.Conn, counter uint64, maxFrameSize int) *Session {
	addr := conn.RemoteAddr().String()
	ip := addr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		ip = host
	}
	return &Session{
		id:            fmt.Sprintf("%s#%d", addr, counter),
		conn:          conn,
		ip:            ip,
		stage:         stageGreeted,
		validCommands: map[string]struct{}{},
		decoder:       &wire.Decoder{MaxFrameSize: maxFrameSize},
		out:           make(chan string, sendBuffer),
		closed:        make(chan struct{}),
	}
}

// newBotSession creates the roster presence for a bot. No socket, no writer.
func newBotSession(nick, description string, op bool) *Session {
	return &Session{
		id:          "bot:" + nick,
		nick:        nick,
		description: description,
		op:          op,
		verified:    true,
		loggedIn:    true,
		isBot:       true,
		joinTime:    time.Now(),
	}
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// Nick returns the session's nick, empty before ValidateNick.
func (s *Session) Nick() string { return s.nick }

// IP returns the peer address.
func (s *Session) IP() string { return s.ip }

// IsOp reports whether the session's account carries the op flag.
func (s *Session) IsOp() bool { return s.op }

// IsVerified reports whether the session's account is verified.
func (s *Session) IsVerified() bool { return s.verified }

// IsBot reports whether this is a bot's roster presence.
func (s *Session) IsBot() bool { return s.isBot }

// LoggedIn reports whether the session completed the handshake.
func (s *Session) LoggedIn() bool { return s.loggedIn }

// AccountID returns the backing account row id, zero for bots.
func (s *Session) AccountID() uint { return s.accountID }

// Description returns the MyINFO description.
func (s *Session) Description() string { return s.description }

// Tag returns the client tag parsed from MyINFO.
func (s *Session) Tag() string { return s.tag }

// ShareSize returns the advertised share size in bytes.
func (s *Session) ShareSize() uint64 { return s.shareSize }

// JoinTime returns when the session connected.
func (s *Session) JoinTime() time.Time { return s.joinTime }

// allows reports whether the verb is in the session's whitelist.
func (s *Session) allows(verb string) bool {
	_, ok := s.validCommands[verb]
	return ok
}

// send queues a frame for the writer goroutine. The frame must already
// carry its trailing '|'. A full queue means the client stopped reading;
// the session is torn down instead of blocking the hub lock.
func (s *Session) send(frame string) bool {
	if s.isBot || s.conn == nil || s.ignoreMessages.Load() {
		return true
	}
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.out <- frame:
		return true
	default:
		logger.Warn("session send queue full, dropping connection", "id", s.id, "nick", s.nick)
		s.shutdown()
		return false
	}
}

// writeLoop drains the outbound queue onto the socket, and owns closing
// it: frames queued before a shutdown ($BadPass, kick notices, ForceMove)
// are flushed on the way out so the client sees why it was dropped.
func (s *Session) writeLoop() {
	s.writerUp.Store(true)
	defer func() { _ = s.conn.Close() }()
	for {
		select {
		case <-s.closed:
			s.flushPending()
			return
		case frame := <-s.out:
			if _, err := s.conn.Write([]byte(frame)); err != nil {
				s.shutdown()
				return
			}
			logger.Log(logger.LevelData, "data sent",
				"id", s.id, "nick", s.nick, "frame", frame)
		}
	}
}

// flushPending makes a bounded best-effort delivery of frames queued
// before shutdown.
func (s *Session) flushPending() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	for {
		select {
		case frame := <-s.out:
			if _, err := s.conn.Write([]byte(frame)); err != nil {
				return
			}
		default:
			return
		}
	}
}

// shutdown signals teardown. Safe to call from any goroutine, any number
// of times. The write loop observes the signal, flushes, and closes the
// socket, which in turn unblocks the read loop; roster cleanup happens
// separately under the hub lock.
func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		// No writer to flush and close for sessions that never got one.
		if s.conn != nil && !s.writerUp.Load() {
			_ = s.conn.Close()
		}
	})
}

// SendFrame queues a raw protocol frame (with its trailing '|') for the
// session. It never touches hub state, so it is safe from any goroutine;
// the remote-logging handler depends on that.
func (s *Session) SendFrame(frame string) bool {
	return s.send(frame)
}

// myINFO renders the session's $MyINFO frame as peers see it.
func (s *Session) myINFO() string {
	return fmt.Sprintf("$MyINFO $ALL %s %s$ $%s$%s$%d$|",
		s.nick, s.description, s.speed, s.email, s.shareSize)
}

// MyINFOText exposes the rendered MyINFO for the status API.
func (s *Session) MyINFOText() string {
	return strings.TrimSuffix(s.myINFO(), "|")
}
