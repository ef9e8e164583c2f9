// Package wire implements the NMDC wire codec: `|`-delimited frames,
// `$verb argument` decomposition, and the escape table applied to payloads
// that originate at the hub.
//
// A frame is everything up to (and excluding) the next `|` byte. Frames that
// start with `$` carry a verb; anything else is a public chat message.
package wire

import (
	"fmt"
	"strings"
)

// MaxVerbLength is the longest verb the parser accepts. Anything longer is
// treated as a malformed frame rather than an unknown verb, since no NMDC
// verb comes close to this and oversized "verbs" are usually garbage input.
const MaxVerbLength = 32

// ErrMalformedFrame reports a frame that cannot be decomposed into a verb
// and its arguments.
type ErrMalformedFrame struct {
	Frame  string
	Reason string
}

func (e *ErrMalformedFrame) Error() string {
	return fmt.Sprintf("malformed frame %.40q: %s", e.Frame, e.Reason)
}

// Message is a decoded NMDC frame. Verb is empty for public chat messages,
// in which case Args holds the full chat line (including the `<nick>` prefix
// the client sent).
type Message struct {
	Verb string
	Args string
}

// IsChat reports whether the message is a public chat line.
func (m Message) IsChat() bool {
	return m.Verb == ""
}

// Fields splits Args on single spaces into at most n fields. The NMDC
// protocol separates positional arguments with exactly one space; the last
// field keeps any remaining spaces (descriptions, chat bodies, reasons).
func (m Message) Fields(n int) []string {
	if m.Args == "" {
		return nil
	}
	return strings.SplitN(m.Args, " ", n)
}

// Parse decomposes a single frame (without the trailing `|`).
func Parse(frame string) (Message, error) {
	if !strings.HasPrefix(frame, "$") {
		return Message{Args: frame}, nil
	}
	verb := frame[1:]
	args := ""
	if i := strings.IndexByte(verb, ' '); i >= 0 {
		verb, args = verb[:i], verb[i+1:]
	}
	if verb == "" {
		return Message{}, &ErrMalformedFrame{Frame: frame, Reason: "empty verb"}
	}
	if len(verb) > MaxVerbLength {
		return Message{}, &ErrMalformedFrame{Frame: frame, Reason: "verb too long"}
	}
	return Message{Verb: verb, Args: args}, nil
}

// escaper is applied to hub-originated payloads before they hit the wire.
// Order matters: the newline rewrite must run before the byte escapes so the
// inserted CR is not re-escaped.
var escaper = strings.NewReplacer(
	"\n", "\r\n",
	"|", "&#124;",
	"$", "&#36;",
)

// unescaper inverts escaper for user-supplied message bodies. The backslash
// forms are legacy client variants that some mods still emit.
var unescaper = strings.NewReplacer(
	"&#124;", "|",
	"\\|", "&#124;",
	"\r\n", "\n",
	"&#36;", "$",
	"\\$", "&#36;",
)

// Escape rewrites a hub-originated payload so it cannot break framing.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape reverses Escape on a user-supplied payload.
func Unescape(s string) string {
	return unescaper.Replace(s)
}
