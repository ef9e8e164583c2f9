package models

import "errors"

// Domain errors shared by the store and the hub.
var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrDuplicateAccount = errors.New("account already exists")
	ErrEventNotFound    = errors.New("active event not found")
	ErrTorrentNotFound  = errors.New("torrent not found")
	ErrDuplicateTorrent = errors.New("torrent already posted")
	ErrBadArgument      = errors.New("bad argument")
)
