// Package hub implements the NMDC hub engine: the connection acceptor, the
// per-client protocol state machine, the roster and broadcast fabric, the
// command dispatcher with its hook chains, the bot substrate, and the
// worker pool that keeps blocking work off the I/O path.
package hub

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/internal/wire"
	"github.com/nmdchub/nmdchub/pkg/config"
	"github.com/nmdchub/nmdchub/pkg/metrics/prometheus"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// securityNick is the pseudo-user all hub notices speak as.
const securityNick = "Hub-Security"

// scrubInterval is how often the housekeeping sweep removes expired
// punishments.
const scrubInterval = time.Minute

// Bot is an in-process roster participant. It has a nick and no socket;
// private messages addressed to it arrive via ProcessCommand, and Attach
// lets it register dispatcher hooks.
type Bot interface {
	// Nick is the roster nick. Must be stable for the bot's lifetime.
	Nick() string

	// Description is shown in the bot's MyINFO.
	Description() string

	// Op reports whether the bot appears in the op list.
	Op() bool

	// Attach registers the bot's hooks on the hub. Called under the hub
	// lock, once per instantiation.
	Attach(h *Hub) error

	// Detach releases external resources (log handlers, caches). Called
	// under the hub lock on reload and shutdown.
	Detach()

	// ProcessCommand handles a private message sent to the bot's nick.
	// Called under the hub lock.
	ProcessCommand(from *Session, text string)
}

// BotFactory builds a fresh bot instance. Factories run at setup and again
// on every ReloadBots.
type BotFactory func(h *Hub) Bot

// Task is one unit of deferred blocking work. The worker session ws is the
// worker's private storage connection; a nil task is a shutdown wake-up.
type Task func(ws *store.Store)

// Hub is the single instance that owns all connection, roster, and
// punishment state. One coarse mutex serializes every mutation: the
// per-connection readers, the accept path, and the pool workers all take
// it before touching anything here.
type Hub struct {
	cfg     config.HubConfig
	store   *store.Store
	metrics *prometheus.HubMetrics

	mu sync.Mutex

	// roster
	sessions    map[string]*Session // by idstring, all accepted sockets
	nicks       map[string]*Session // logged-in sessions and bots
	ops         map[string]*Session
	botSessions map[string]*Session

	// bots
	bots         map[string]Bot
	botFactories []BotFactory
	generation   int

	// accounts cache, loaded at setup, kept in step with the store
	accounts     map[string]*models.Account // by nick
	accountsByID map[uint]*models.Account

	// active punishments: entry -> unix expiry
	bans        map[string]int64
	silences    map[string]int64
	stupidifies map[string]int64

	// pending reverse-connect approvals: "receiver\x00op" -> present
	connectChecks *gocache.Cache

	verbs map[string]*verbEntry
	rng   *rand.Rand

	listener  net.Listener
	idCounter uint64
	readWG    sync.WaitGroup

	tasks          chan Task
	taskWG         sync.WaitGroup
	exitTaskRunner atomic.Bool
	closing        atomic.Bool

	startTime time.Time
}

// New constructs a hub from configuration. Call Setup before Run.
func New(cfg config.HubConfig, st *store.Store, m *prometheus.HubMetrics) *Hub {
	h := &Hub{
		cfg:          cfg,
		store:        st,
		metrics:      m,
		sessions:     map[string]*Session{},
		nicks:        map[string]*Session{},
		ops:          map[string]*Session{},
		botSessions:  map[string]*Session{},
		bots:         map[string]Bot{},
		accounts:     map[string]*models.Account{},
		accountsByID: map[uint]*models.Account{},
		bans:         map[string]int64{},
		silences:     map[string]int64{},
		stupidifies:  map[string]int64{},
		connectChecks: gocache.New(
			cfg.ConnectCheckTime, cfg.ConnectCheckTime),
		verbs:     map[string]*verbEntry{},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		tasks:     make(chan Task, 1024),
		startTime: time.Now(),
	}
	h.registerHandshakeVerbs()
	h.registerCommandVerbs()
	return h
}

// RegisterBot queues a bot factory. The factory runs during Setup and
// again on every reload.
func (h *Hub) RegisterBot(factory BotFactory) {
	h.botFactories = append(h.botFactories, factory)
}

// Setup loads persistent state into memory and instantiates the bots.
func (h *Hub) Setup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	accounts, err := h.store.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	for i := range accounts {
		a := &accounts[i]
		h.accounts[a.Nick] = a
		h.accountsByID[a.OID] = a
	}
	logger.Log(logger.LevelSQL, "accounts loaded", "count", len(accounts))

	events, err := h.store.ListActiveEvents(ctx)
	if err != nil {
		return fmt.Errorf("loading active events: %w", err)
	}
	now := time.Now().Unix()
	for _, ev := range events {
		if ev.Until <= now {
			continue
		}
		if m := h.eventMap(ev.EventTypeID); m != nil {
			m[ev.Entry] = ev.Until
		}
	}
	logger.Log(logger.LevelSQL, "active events loaded", "count", len(events))
	h.updatePunishmentMetrics()

	if err := h.attachBots(); err != nil {
		return fmt.Errorf("attaching bots: %w", err)
	}
	return nil
}

// Run starts the worker pool and the accept loop, and blocks until ctx is
// cancelled or the listener fails.
func (h *Hub) Run(ctx context.Context) error {
	addr := net.JoinHostPort(h.cfg.BindAddress, strconv.Itoa(h.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()
	logger.Info("hub listening", "addr", addr, "name", h.cfg.Name)

	h.startWorkers()

	stopScrub := make(chan struct{})
	go h.scrubLoop(stopScrub)

	go func() {
		<-ctx.Done()
		close(stopScrub)
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if h.closing.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		h.handleConn(conn)
	}
}

// Shutdown tears the hub down: notice to all users, queue drain bounded by
// CleanupTime, then forced close of every session.
func (h *Hub) Shutdown() {
	if !h.closing.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	if h.listener != nil {
		_ = h.listener.Close()
	}
	h.broadcastChat(securityNick, "Hub is shutting down.")
	for _, s := range h.sessions {
		s.ignoreMessages.Store(true)
	}
	h.mu.Unlock()

	h.stopWorkers()

	h.mu.Lock()
	for _, s := range h.sessions {
		s.shutdown()
	}
	h.mu.Unlock()
	h.readWG.Wait()

	logger.Info("hub stopped", "uptime", time.Since(h.startTime).Round(time.Second).String())
}

// handleConn admits one accepted socket: ban gate, roster insert, $Lock.
func (h *Hub) handleConn(conn net.Conn) {
	h.metrics.RecordConnectionOpened()

	h.mu.Lock()
	h.idCounter++
	s := newSession(conn, h.idCounter, h.cfg.MaxFrameSize)

	if entry, banned := h.ipBanned(s.ip); banned {
		logger.Info("banned ip rejected", "ip", s.ip, "entry", entry)
		h.mu.Unlock()
		_, _ = conn.Write([]byte(fmt.Sprintf("<%s> You are banned.|", securityNick)))
		_ = conn.Close()
		h.metrics.RecordConnectionClosed()
		return
	}

	h.sessions[s.id] = s
	s.lock = wire.GenerateLock(h.rng)
	s.validCommands = handshakeCommands()
	h.mu.Unlock()

	go s.writeLoop()
	s.send(fmt.Sprintf("$Lock %s Pk=%s|", s.lock, "nmdchub"))

	h.readWG.Add(1)
	go h.readLoop(s)

	logger.Debug("connection accepted", "id", s.id, "ip", s.ip)
}

// readLoop owns the socket read side: raw bytes in, decoded frames handed
// to the dispatcher under the hub lock.
func (h *Hub) readLoop(s *Session) {
	defer h.readWG.Done()
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := s.decoder.Feed(buf[:n])
			h.mu.Lock()
			for _, frame := range frames {
				h.processFrame(s, frame)
			}
			h.mu.Unlock()
			if ferr != nil {
				logger.Warn("oversized frame, dropping connection", "id", s.id, "nick", s.nick)
				break
			}
		}
		if err != nil {
			break
		}
	}
	h.mu.Lock()
	h.removeUser(s)
	h.mu.Unlock()
	h.metrics.RecordConnectionClosed()
}

// processFrame parses and dispatches one frame. Caller holds the lock.
// Chat lines and $To: frames route to their pseudo-verbs.
func (h *Hub) processFrame(s *Session, frame string) {
	msg, err := wire.Parse(frame)
	if err != nil {
		logger.Debug("malformed frame", "id", s.id, "nick", s.nick, "error", err)
		return
	}
	switch {
	case msg.IsChat():
		msg.Verb = verbChatMessage
	case msg.Verb == "To:":
		msg.Verb = verbPrivateMessage
	}
	h.dispatch(s, msg)
}

// scrubLoop periodically expires punishments.
func (h *Hub) scrubLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(scrubInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.scrubExpired(models.PunishmentTypes...)
			h.mu.Unlock()
		}
	}
}

// Config returns the hub configuration.
func (h *Hub) Config() config.HubConfig { return h.cfg }

// Store returns the shared store handle. Bot commands that must read
// synchronously use it under the hub lock; anything slow goes through
// Submit instead.
func (h *Hub) Store() *store.Store { return h.store }

// Generation returns the current reload generation.
func (h *Hub) Generation() int { return h.generation }

// StartTime returns when the hub was constructed.
func (h *Hub) StartTime() time.Time { return h.startTime }

// Addr returns the NMDC listener address, nil before Run has bound it.
// Port 0 in the configuration binds an ephemeral port; this is how callers
// discover it.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Lock takes the coarse hub mutex. For callers outside the dispatch path
// (status API, tests).
func (h *Hub) Lock() { h.mu.Lock() }

// Unlock releases the coarse hub mutex.
func (h *Hub) Unlock() { h.mu.Unlock() }
