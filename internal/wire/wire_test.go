package wire

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("verb with arguments", func(t *testing.T) {
		m, err := Parse("$ValidateNick alice")
		require.NoError(t, err)
		assert.Equal(t, "ValidateNick", m.Verb)
		assert.Equal(t, "alice", m.Args)
		assert.False(t, m.IsChat())
	})

	t.Run("verb without arguments", func(t *testing.T) {
		m, err := Parse("$GetNickList")
		require.NoError(t, err)
		assert.Equal(t, "GetNickList", m.Verb)
		assert.Equal(t, "", m.Args)
	})

	t.Run("chat message", func(t *testing.T) {
		m, err := Parse("<alice> hello there")
		require.NoError(t, err)
		assert.True(t, m.IsChat())
		assert.Equal(t, "<alice> hello there", m.Args)
	})

	t.Run("empty verb is malformed", func(t *testing.T) {
		_, err := Parse("$ hello")
		assert.Error(t, err)
		_, err = Parse("$")
		assert.Error(t, err)
	})

	t.Run("oversized verb is malformed", func(t *testing.T) {
		_, err := Parse("$" + strings.Repeat("A", MaxVerbLength+1))
		var mf *ErrMalformedFrame
		require.ErrorAs(t, err, &mf)
		assert.Equal(t, "verb too long", mf.Reason)
	})

	t.Run("arguments keep internal spacing", func(t *testing.T) {
		m, err := Parse("$To: bob From: alice $<alice> hi")
		require.NoError(t, err)
		assert.Equal(t, "To:", m.Verb)
		assert.Equal(t, "bob From: alice $<alice> hi", m.Args)
	})
}

func TestFields(t *testing.T) {
	m := Message{Verb: "ConnectToMe", Args: "bob 1.2.3.4:412"}
	f := m.Fields(2)
	require.Len(t, f, 2)
	assert.Equal(t, "bob", f[0])
	assert.Equal(t, "1.2.3.4:412", f[1])

	assert.Nil(t, Message{}.Fields(3))
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"plain text",
		"dollar $ sign",
		"line\nbreak",
		"crlf\r\nalready",
		"all $ of\nthem $",
		"",
	}
	for _, in := range cases {
		assert.Equal(t, in, Unescape(Escape(in)), "round trip of %q", in)
	}
}

func TestEscape(t *testing.T) {
	assert.Equal(t, "a&#124;b", Escape("a|b"))
	assert.Equal(t, "a&#36;b", Escape("a$b"))
	assert.Equal(t, "a\r\nb", Escape("a\nb"))
	assert.NotContains(t, Escape("x|y$z\n"), "|")
}

func TestDecoder(t *testing.T) {
	t.Run("multiple frames in one read", func(t *testing.T) {
		var d Decoder
		frames, err := d.Feed([]byte("$Key abc|$ValidateNick alice|"))
		require.NoError(t, err)
		assert.Equal(t, []string{"$Key abc", "$ValidateNick alice"}, frames)
		assert.Equal(t, 0, d.Pending())
	})

	t.Run("fragmented frame", func(t *testing.T) {
		var d Decoder
		frames, err := d.Feed([]byte("$MyINFO $ALL ali"))
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Equal(t, 16, d.Pending())

		frames, err = d.Feed([]byte("ce d$ $10$e$0$|<alice> hi|tail"))
		require.NoError(t, err)
		assert.Equal(t, []string{"$MyINFO $ALL alice d$ $10$e$0$", "<alice> hi"}, frames)
		assert.Equal(t, 4, d.Pending())
	})

	t.Run("empty keepalive frames dropped", func(t *testing.T) {
		var d Decoder
		frames, err := d.Feed([]byte("|||$GetNickList||"))
		require.NoError(t, err)
		assert.Equal(t, []string{"$GetNickList"}, frames)
	})

	t.Run("unterminated oversize tail", func(t *testing.T) {
		d := Decoder{MaxFrameSize: 8}
		_, err := d.Feed([]byte("aaaaaaaaaaaaaaaa"))
		require.Error(t, err)
		assert.Equal(t, 0, d.Pending())
	})
}

func TestGenerateLock(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	lock := GenerateLock(rng)
	assert.True(t, strings.HasPrefix(lock, "EXTENDEDPROTOCOL"))
	assert.Len(t, lock, len("EXTENDEDPROTOCOL")+lockRandLen)
	for _, c := range []string{" ", "|", "$"} {
		assert.NotContains(t, lock, c)
	}
}

func TestKeyFor(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		lock := "EXTENDEDPROTOCOLabcabc"
		assert.Equal(t, KeyFor(lock), KeyFor(lock))
		assert.NotEqual(t, KeyFor(lock), KeyFor("EXTENDEDPROTOCOLabcabd"))
	})

	t.Run("reference value", func(t *testing.T) {
		// First key byte of lock "ABCA": 'A'^'A'^'C'^5 = 'C'^5 = 0x46,
		// nibble-swapped 0x64 = 'd'.
		key := KeyFor("ABCA")
		require.NotEmpty(t, key)
		assert.Equal(t, byte(0x64), key[0])
	})

	t.Run("framing bytes escaped", func(t *testing.T) {
		// Adjacent identical bytes XOR to zero, which must be spelled as an
		// escape rather than a NUL on the wire.
		key := KeyFor("EXTENDEDPROTOCOLxxxx")
		assert.NotContains(t, key, "\x00")
		assert.Contains(t, key, "/%DCN000%/")
	})

	t.Run("too short", func(t *testing.T) {
		assert.Equal(t, "", KeyFor("ab"))
	})
}
