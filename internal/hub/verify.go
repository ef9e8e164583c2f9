package hub

import (
	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/models"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// SetVerified flips an account's verified flag, adjusts the live session's
// whitelist, mirrors storage, and appends the type-6 history row. When
// verifying an account that has no password, the user is prompted to set
// one. Caller holds the lock.
func (h *Hub) SetVerified(account *models.Account, verified bool, by *models.Account, note string) {
	account.Verified = verified
	nick := account.Nick

	h.Submit(func(ws *store.Store) {
		if err := ws.SetVerified(taskContext(), nick, verified); err != nil {
			logger.Error("verified flag update failed", "nick", nick, "error", err)
		}
	})

	action := "verified"
	if !verified {
		action = "unverified"
	}
	var byID *uint
	if by != nil {
		byID = &by.OID
	}
	h.AppendHistory(account.OID, models.EventVerify, byID, action+"/"+note)

	s := h.nicks[nick]
	if s == nil || s.isBot {
		return
	}
	s.verified = verified
	s.validCommands = activeCommands(s.op, s.verified || !h.cfg.RestrictUnverifiedUsers)

	if verified {
		h.securityNotice(s, "You have been verified. Searching and downloading are now enabled.")
		if account.Password == "" {
			h.PrivateMessage(s, h.cfg.AdvancedBotName,
				"Your account has no password. Send me \"password <newpass>\" to set one.")
		}
	} else {
		h.securityNotice(s, "Your verification has been revoked.")
	}
}
