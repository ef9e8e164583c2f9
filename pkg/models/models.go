// Package models defines the persistent records of the hub: accounts,
// active punishments, the append-only history log, and torrent postings.
package models

import (
	"fmt"
	"regexp"
	"strings"
)

// Event type identifiers. These are stable wire/storage values: history
// rows and active events reference them by number, and the admin `history`
// command filters on the digits.
const (
	EventJoin      = 1
	EventBan       = 3
	EventSilence   = 4
	EventStupidify = 5
	EventVerify    = 6
	EventNote      = 7
)

// EventTypeName returns the short name for an event type id.
func EventTypeName(id int) string {
	switch id {
	case EventJoin:
		return "join"
	case EventBan:
		return "ban"
	case EventSilence:
		return "silence"
	case EventStupidify:
		return "stupidify"
	case EventVerify:
		return "verify"
	case EventNote:
		return "note"
	default:
		return fmt.Sprintf("event%d", id)
	}
}

// PunishmentTypes lists the event types that live in the active-event
// tables, in scrub order.
var PunishmentTypes = []int{EventBan, EventSilence, EventStupidify}

// Capability tags recognized in Account.Args. Args is a free-form string;
// presence of a tag substring grants the capability.
const (
	// ArgScriptAccess allows the bounded admin query/dump/set commands.
	ArgScriptAccess = "PythonBot"

	// ArgReplyInChat routes admin bot replies to main chat instead of a
	// private message.
	ArgReplyInChat = "AdvancedBot2MainChat"
)

// Account is the persistent record behind a nick. Accounts are created on
// first successful login (except on private hubs) and never deleted by
// runtime logic.
type Account struct {
	OID          uint   `gorm:"primaryKey;column:oid" json:"oid"`
	Nick         string `gorm:"uniqueIndex;not null;size:64" json:"nick"`
	Password     string `gorm:"size:255" json:"-"`
	Args         string `gorm:"size:255" json:"args"`
	Op           bool   `gorm:"default:false" json:"op"`
	Verified     bool   `gorm:"default:false" json:"verified"`
	CreationTime int64  `gorm:"not null" json:"creationtime"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// HasArg reports whether the free-form args field carries the given
// capability tag.
func (a *Account) HasArg(tag string) bool {
	return strings.Contains(a.Args, tag)
}

// ActiveEvent is a live punishment: a ban, silence or stupidify keyed by
// entry (`%nick` or an IP prefix) with a Unix expiry.
type ActiveEvent struct {
	OID         uint   `gorm:"primaryKey;column:oid" json:"oid"`
	EventTypeID int    `gorm:"not null;index:idx_active_type_entry" json:"eventtypeid"`
	Entry       string `gorm:"not null;size:64;index:idx_active_type_entry" json:"entry"`
	Until       int64  `gorm:"not null" json:"until"`
}

// TableName returns the table name for ActiveEvent.
func (ActiveEvent) TableName() string {
	return "activeevents"
}

// Event is an append-only history row. Join rows (type 1) are updated once,
// on disconnect, to suffix the session duration to the note.
type Event struct {
	OID         uint   `gorm:"primaryKey;column:oid" json:"oid"`
	AccountID   uint   `gorm:"not null;index" json:"accountid"`
	EventTypeID int    `gorm:"not null" json:"eventtypeid"`
	Time        int64  `gorm:"not null" json:"time"`
	NoteBy      *uint  `json:"noteby,omitempty"`
	Note        string `gorm:"size:512" json:"note"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return "events"
}

// Torrent is a posted torrent link. It is invisible to regular users until
// an op approves it; removal clears Active but keeps the row.
type Torrent struct {
	OID          uint   `gorm:"primaryKey;column:oid" json:"oid"`
	AddedBy      uint   `gorm:"not null" json:"addedby"`
	AddedTime    int64  `gorm:"not null" json:"addedtime"`
	ApprovalBy   *uint  `json:"approvalby,omitempty"`
	ApprovalTime int64  `json:"approvaltime"`
	Active       bool   `gorm:"default:false" json:"active"`
	Location     string `gorm:"not null;size:512" json:"location"`
	Description  string `gorm:"size:512" json:"description"`
}

// TableName returns the table name for Torrent.
func (Torrent) TableName() string {
	return "torrents"
}

// Approved reports whether the torrent is visible to regular users.
func (t *Torrent) Approved() bool {
	return t.Active && t.ApprovalBy != nil
}

// torrentLocation validates the only link form the hub accepts.
var torrentLocation = regexp.MustCompile(`^(http|ftp)://.*\.torrent$`)

// ValidateTorrentLocation checks the URL scheme and extension of a torrent
// posting.
func ValidateTorrentLocation(location string) error {
	if !torrentLocation.MatchString(location) {
		return fmt.Errorf("%w: torrent location must start with http:// or ftp:// and end in .torrent", ErrBadArgument)
	}
	return nil
}

// AllModels returns every model for schema migration.
func AllModels() []any {
	return []any{
		&Account{},
		&ActiveEvent{},
		&Event{},
		&Torrent{},
	}
}
