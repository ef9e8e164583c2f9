package hub

import (
	"errors"
	"fmt"
)

// Errors surfaced by the protocol state machine and the dispatcher.
var (
	ErrBannedNick     = errors.New("nick is banned")
	ErrBannedIP       = errors.New("ip is banned")
	ErrNickInUse      = errors.New("nick already in use")
	ErrUnknownAccount = errors.New("no such account")
	ErrBadPassword    = errors.New("bad password")
	ErrNotPermitted   = errors.New("not permitted")
	ErrUnknownVerb    = errors.New("unknown verb")
	ErrShutdown       = errors.New("hub is shutting down")
)

// Deny aborts a dispatch at the hook or check stage. Protocol verbs drop
// silently; bot commands report Reason back to the invoker.
type Deny struct {
	// Reason is the operator-readable explanation.
	Reason string

	// Notice, when set, is sent to the offending session as a
	// Hub-Security chat message before the dispatch is abandoned.
	Notice string

	// Disconnect closes the session after delivering the notice.
	Disconnect bool
}

func (d *Deny) Error() string {
	return d.Reason
}

// Denyf builds a Deny with a formatted reason.
func Denyf(format string, args ...any) *Deny {
	return &Deny{Reason: fmt.Sprintf(format, args...)}
}

// AsDeny unwraps err to a *Deny if it is one.
func AsDeny(err error) (*Deny, bool) {
	var d *Deny
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
