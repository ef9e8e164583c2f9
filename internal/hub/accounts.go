package hub

import (
	"context"
	"sort"
	"time"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// Account returns the cached account for a nick, nil if none. Caller holds
// the lock.
func (h *Hub) Account(nick string) *models.Account {
	return h.accounts[nick]
}

// AccountByID returns the cached account for a row id, nil if none. Caller
// holds the lock.
func (h *Hub) AccountByID(id uint) *models.Account {
	return h.accountsByID[id]
}

// Accounts returns all cached accounts sorted by nick. Caller holds the
// lock.
func (h *Hub) Accounts() []*models.Account {
	out := make([]*models.Account, 0, len(h.accounts))
	for _, a := range h.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// createAccount inserts a new account row and caches it. Runs on the login
// path, so the insert is synchronous: the row id is needed before the join
// history row can be written.
func (h *Hub) createAccount(nick string) (*models.Account, error) {
	account := &models.Account{
		Nick:         nick,
		CreationTime: time.Now().Unix(),
	}
	if err := h.store.CreateAccount(context.Background(), account); err != nil {
		return nil, err
	}
	h.accounts[nick] = account
	h.accountsByID[account.OID] = account
	logger.Log(logger.LevelSQL, "account created", "nick", nick, "oid", account.OID)
	return account, nil
}

// SetPassword updates an account password, cache first, storage mirrored
// on the pool.
func (h *Hub) SetPassword(account *models.Account, password string) {
	account.Password = password
	nick := account.Nick
	h.Submit(func(ws *store.Store) {
		if err := ws.UpdatePassword(taskContext(), nick, password); err != nil {
			logger.Error("password update failed", "nick", nick, "error", err)
		}
	})
}

// SetOpFlag grants or revokes op on an account. The session's whitelist,
// roster placement, and the broadcast op list follow immediately when the
// user is online.
func (h *Hub) SetOpFlag(account *models.Account, op bool) {
	account.Op = op
	nick := account.Nick
	h.Submit(func(ws *store.Store) {
		if err := ws.SetOp(taskContext(), nick, op); err != nil {
			logger.Error("op flag update failed", "nick", nick, "error", err)
		}
	})
	if s := h.nicks[nick]; s != nil && !s.isBot {
		s.op = op
		if op {
			h.ops[nick] = s
		} else {
			delete(h.ops, nick)
		}
		s.validCommands = activeCommands(s.op, s.verified || !h.cfg.RestrictUnverifiedUsers)
		h.broadcast(h.opList())
	}
}

// SetAccountArgs replaces an account's capability tags.
func (h *Hub) SetAccountArgs(account *models.Account, args string) {
	account.Args = args
	nick := account.Nick
	h.Submit(func(ws *store.Store) {
		if err := ws.SetArgs(taskContext(), nick, args); err != nil {
			logger.Error("args update failed", "nick", nick, "error", err)
		}
	})
}

// AppendHistory queues a history row for an account.
func (h *Hub) AppendHistory(accountID uint, eventTypeID int, noteBy *uint, note string) {
	row := &models.Event{
		AccountID:   accountID,
		EventTypeID: eventTypeID,
		Time:        time.Now().Unix(),
		NoteBy:      noteBy,
		Note:        note,
	}
	h.Submit(func(ws *store.Store) {
		if err := ws.AppendHistory(taskContext(), row); err != nil {
			logger.Error("history append failed", "account", accountID, "type", eventTypeID, "error", err)
		}
	})
}
