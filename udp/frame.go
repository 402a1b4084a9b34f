package udp

import "encoding/binary"

// headerSize is cmd(1) + offset(4). A frame is the header followed by the
// rest of whatever the transport delivered in a single Read, so Stream only
// works over message-preserving transports (a real UDP socket, a Session,
// or anything else that hands back one Write as one Read).
const headerSize = 5

const (
	cmdSYN uint8 = iota + 1
	cmdACK
	cmdPSH
	cmdFIN
	cmdRST
)

// frameHeader's Offset field is reused across commands: the advertised
// fragment size on a SYN, the cumulative bytes acknowledged on an ACK, the
// starting byte offset of the payload on a PSH, and unused on FIN/RST.
type frameHeader [headerSize]byte

func newFrameHeader(cmd uint8, offset uint32) frameHeader {
	var h frameHeader
	h[0] = cmd
	binary.BigEndian.PutUint32(h[1:], offset)
	return h
}

func (h frameHeader) Cmd() uint8 {
	return h[0]
}

func (h frameHeader) Offset() uint32 {
	return binary.BigEndian.Uint32(h[1:])
}
