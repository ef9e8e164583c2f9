package wire

import "bytes"

// Decoder splits a TCP byte stream into NMDC frames. A single read may carry
// several frames, a fragment of one, or both; the decoder keeps the
// unterminated tail until the next Feed.
type Decoder struct {
	tail []byte

	// MaxFrameSize bounds the unterminated tail. A client that never sends
	// `|` would otherwise grow the buffer without limit. Zero means the
	// default limit.
	MaxFrameSize int
}

// DefaultMaxFrameSize is generous for chat traffic; search results are the
// largest legitimate frames and stay well under this.
const DefaultMaxFrameSize = 64 * 1024

// ErrFrameTooLarge is returned by Feed when the tail exceeds MaxFrameSize.
type ErrFrameTooLarge struct {
	Size int
}

func (e *ErrFrameTooLarge) Error() string {
	return "unterminated frame exceeds size limit"
}

// Feed appends p to the buffered tail and returns all complete frames, with
// their trailing `|` stripped. Empty frames (bare `|` keep-alives) are
// dropped.
func (d *Decoder) Feed(p []byte) ([]string, error) {
	d.tail = append(d.tail, p...)

	var frames []string
	for {
		i := bytes.IndexByte(d.tail, '|')
		if i < 0 {
			break
		}
		if i > 0 {
			frames = append(frames, string(d.tail[:i]))
		}
		d.tail = d.tail[i+1:]
	}

	limit := d.MaxFrameSize
	if limit == 0 {
		limit = DefaultMaxFrameSize
	}
	if len(d.tail) > limit {
		size := len(d.tail)
		d.tail = nil
		return frames, &ErrFrameTooLarge{Size: size}
	}

	// Release the backing array once fully consumed so long-lived sessions
	// don't pin their largest historical read.
	if len(d.tail) == 0 {
		d.tail = nil
	}
	return frames, nil
}

// Pending returns the number of buffered bytes awaiting a terminator.
func (d *Decoder) Pending() int {
	return len(d.tail)
}
