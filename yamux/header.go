package yamux

import (
	"encoding/binary"
	"fmt"
)

// Version is the only frame header version this package understands.
const Version uint8 = 0

// headerSize is the fixed size of every yamux frame header: version(1) +
// type(1) + flags(2) + streamID(4) + length(4).
const headerSize = 12

// Type identifies the kind of frame a header describes.
type Type uint8

const (
	TypeData         Type = 0
	TypeWindowUpdate Type = 1
	TypePing         Type = 2
	TypeGoAway       Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeData:
		return "Data"
	case TypeWindowUpdate:
		return "WindowUpdate"
	case TypePing:
		return "Ping"
	case TypeGoAway:
		return "GoAway"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Flag is a bitwise-OR of connection-management flags carried in a header.
type Flag uint16

const (
	FlagSYN Flag = 1 << 0
	FlagACK Flag = 1 << 1
	FlagFIN Flag = 1 << 2
	FlagRST Flag = 1 << 3
)

func (f Flag) has(bit Flag) bool {
	return f&bit != 0
}

// GoAwayCode is the error code carried in a GoAway frame's length field.
type GoAwayCode uint32

const (
	GoAwayNormal        GoAwayCode = 0
	GoAwayProtocolError GoAwayCode = 1
	GoAwayInternalError GoAwayCode = 2
)

// Header is the decoded form of a 12-byte yamux frame header.
type Header struct {
	Type     Type
	Flags    Flag
	StreamID uint32
	Length   uint32
}

// Encode renders h as a 12-byte wire frame header.
func (h Header) Encode() [headerSize]byte {
	var buf [headerSize]byte
	buf[0] = Version
	buf[1] = byte(h.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Flags))
	binary.BigEndian.PutUint32(buf[4:8], h.StreamID)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	return buf
}

// DecodeHeader parses a 12-byte wire frame header. It enforces the
// version, known-type, and stream-id-vs-frame-level invariants from the
// frame codec; flag combinations are the state machine's concern, not the
// codec's.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != headerSize {
		return Header{}, fmt.Errorf("yamux: short header: %d bytes", len(buf))
	}
	if buf[0] != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidVersion, buf[0])
	}
	typ := Type(buf[1])
	h := Header{
		Type:     typ,
		Flags:    Flag(binary.BigEndian.Uint16(buf[2:4])),
		StreamID: binary.BigEndian.Uint32(buf[4:8]),
		Length:   binary.BigEndian.Uint32(buf[8:12]),
	}
	switch typ {
	case TypeData, TypeWindowUpdate:
		if h.StreamID == 0 {
			return Header{}, fmt.Errorf("%w: %s frame with stream id 0", ErrInvalidStreamID, typ)
		}
	case TypePing, TypeGoAway:
		if h.StreamID != 0 {
			return Header{}, fmt.Errorf("%w: %s frame with nonzero stream id %d", ErrInvalidStreamID, typ, h.StreamID)
		}
	default:
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidMsgType, typ)
	}
	return h, nil
}

func encodeDataOrWindowUpdate(typ Type, flags Flag, id uint32, length uint32) [headerSize]byte {
	return Header{Type: typ, Flags: flags, StreamID: id, Length: length}.Encode()
}

func encodePing(flags Flag, token uint32) [headerSize]byte {
	return Header{Type: TypePing, Flags: flags, StreamID: 0, Length: token}.Encode()
}

func encodeGoAway(code GoAwayCode) [headerSize]byte {
	return Header{Type: TypeGoAway, Flags: 0, StreamID: 0, Length: uint32(code)}.Encode()
}
