package yamux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	require := require.New(t)

	h := Header{Type: TypeData, Flags: FlagSYN | FlagACK, StreamID: 7, Length: 512}
	buf := h.Encode()
	require.Len(buf, headerSize)

	got, err := DecodeHeader(buf[:])
	require.Nil(err)
	require.Equal(h, got)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := DecodeHeader(make([]byte, 4))
	require.Error(t, err)
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	buf := Header{Type: TypeData, StreamID: 1}.Encode()
	buf[0] = Version + 1
	_, err := DecodeHeader(buf[:])
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDecodeHeaderRejectsUnknownType(t *testing.T) {
	buf := Header{Type: TypeData, StreamID: 1}.Encode()
	buf[1] = 0xFF
	_, err := DecodeHeader(buf[:])
	require.ErrorIs(t, err, ErrInvalidMsgType)
}

func TestDecodeHeaderRejectsStreamIDMismatch(t *testing.T) {
	t.Run("Data with zero stream id", func(t *testing.T) {
		buf := Header{Type: TypeData, StreamID: 1}.Encode()
		buf[4], buf[5], buf[6], buf[7] = 0, 0, 0, 0
		_, err := DecodeHeader(buf[:])
		require.ErrorIs(t, err, ErrInvalidStreamID)
	})

	t.Run("Ping with nonzero stream id", func(t *testing.T) {
		buf := encodePing(FlagSYN, 42)
		buf[4] = 1
		_, err := DecodeHeader(buf[:])
		require.ErrorIs(t, err, ErrInvalidStreamID)
	})

	t.Run("GoAway with nonzero stream id", func(t *testing.T) {
		buf := encodeGoAway(GoAwayNormal)
		buf[4] = 1
		_, err := DecodeHeader(buf[:])
		require.ErrorIs(t, err, ErrInvalidStreamID)
	})
}

func TestFlagHas(t *testing.T) {
	f := FlagSYN | FlagFIN
	require.True(t, f.has(FlagSYN))
	require.True(t, f.has(FlagFIN))
	require.False(t, f.has(FlagACK))
	require.False(t, f.has(FlagRST))
}
