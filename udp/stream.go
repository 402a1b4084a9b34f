package udp

import (
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"yamux-toolkit/util"
	uatomic "yamux-toolkit/util/atomic"
)

const (
	defaultRetransmitTimeout = 200 * time.Millisecond
	maxRetransmitTimeout     = 2 * time.Second
)

// Stream layers a stop-and-wait ARQ on top of any message-preserving
// net.Conn (a raw UDP socket, or a Session demultiplexed from one), turning
// it into a reliable, ordered, bidirectional byte pipe. Only one data frame
// is ever in flight per direction, which keeps the receive side free of any
// reordering buffer: a frame either extends the stream at the expected
// offset or it's a stale retransmission, never something to hold onto.
type Stream struct {
	net.Conn

	cfg StreamConfig

	fragmentSize uint32
	peerFragment uint32

	handshakeOnce sync.Once
	handshakeDone uatomic.Bool
	handshakeCh   chan struct{}

	sendMu      sync.Mutex
	sendOffset  uint32
	ackedOffset uint32
	ackNotify   chan struct{}
	rtt         RTTStats

	recvOffset uint32
	recvCh     chan []byte
	recvPool   *util.BufferPool

	readMu     sync.Mutex
	readBuffer *bytes.Buffer

	recvErr   atomic.Value
	recvErrCh chan error

	resetCh chan struct{}

	die       chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewStream(conn net.Conn, cfg StreamConfig) *Stream {
	cfg = sanitizeStreamConfig(cfg)
	s := &Stream{
		Conn: conn,
		cfg:  cfg,

		fragmentSize: uint32(cfg.FragmentSize),

		handshakeCh: make(chan struct{}, 1),
		ackNotify:   make(chan struct{}, 1),

		recvCh:   make(chan []byte, cfg.ReadBacklog),
		recvPool: util.NewBufferPool(headerSize+cfg.FragmentSize, cfg.ReadBacklog),

		readBuffer: bytes.NewBuffer(nil),

		recvErrCh: make(chan error, 1),
		resetCh:   make(chan struct{}, 1),

		die: make(chan struct{}),
	}
	if cfg.PeerFragmentSize > 0 {
		s.peerFragment = uint32(cfg.PeerFragmentSize)
		s.handshakeDone.Set(true)
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Handshake exchanges each side's advertised FragmentSize. It's idempotent
// and safe to call before the first Write, which also calls it implicitly.
// Read does not call it; a side that only reads completes the handshake
// when the peer's SYN arrives and handleSYN answers it.
func (s *Stream) Handshake() error {
	if s.handshakeDone.Get() {
		return nil
	}
	if err := s.getReadError(); err != nil {
		return err
	}
	var sendErr error
	s.handshakeOnce.Do(func() {
		sendErr = s.writeFrame(cmdSYN, s.fragmentSize, nil)
	})
	if sendErr != nil {
		return sendErr
	}
	if s.handshakeDone.Get() {
		return nil
	}
	select {
	case <-s.handshakeCh:
		return nil
	case err := <-s.recvErrCh:
		return err
	case <-s.die:
		return io.EOF
	}
}

func (s *Stream) Read(b []byte) (int, error) {
	if err := s.getReadError(); err != nil {
		return 0, err
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	for {
		if s.readBuffer.Len() > 0 {
			return s.readBuffer.Read(b)
		}
		select {
		case p := <-s.recvCh:
			s.readBuffer.Write(p)
		case err := <-s.recvErrCh:
			return 0, err
		case <-s.resetCh:
			return 0, io.EOF
		case <-s.die:
			return 0, io.EOF
		}
	}
}

func (s *Stream) Write(b []byte) (int, error) {
	if err := s.Handshake(); err != nil {
		return 0, err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	frag := int(atomic.LoadUint32(&s.peerFragment))
	if frag <= 0 {
		frag = minFragmentSize
	}
	written := 0
	for written < len(b) {
		end := written + frag
		if end > len(b) {
			end = len(b)
		}
		if err := s.sendChunk(b[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// sendChunk pushes one data frame and retransmits it on a timer, scaled by
// the running RTT estimate, until the peer's cumulative ack covers it.
func (s *Stream) sendChunk(chunk []byte) error {
	offset := s.sendOffset
	target := offset + uint32(len(chunk))

	timeout := s.rtt.Smoothed() * 2
	if timeout <= 0 {
		timeout = defaultRetransmitTimeout
	} else if timeout > maxRetransmitTimeout {
		timeout = maxRetransmitTimeout
	}

	for {
		s.rtt.UpdateSend()
		if err := s.writeFrame(cmdPSH, offset, chunk); err != nil {
			return err
		}
		timer := time.NewTimer(timeout)
		select {
		case <-s.ackNotify:
			timer.Stop()
			if atomic.LoadUint32(&s.ackedOffset) >= target {
				s.rtt.UpdateRecv()
				s.sendOffset = target
				return nil
			}
		case <-timer.C:
		case <-s.resetCh:
			return io.EOF
		case <-s.die:
			return io.EOF
		}
	}
}

func (s *Stream) Reset() error {
	return s.internalReset(true)
}

func (s *Stream) Close() error {
	return s.internalClose(true)
}

func (s *Stream) internalReset(sendRst bool) error {
	if sendRst {
		if err := s.writeFrame(cmdRST, 0, nil); err != nil {
			return err
		}
	}
	atomic.StoreUint32(&s.recvOffset, 0)
	util.AsyncNotify(s.resetCh)
	return nil
}

func (s *Stream) internalClose(sendFin bool) error {
	if sendFin {
		if err := s.writeFrame(cmdFIN, 0, nil); err != nil {
			return err
		}
	}
	s.closeOnce.Do(func() {
		close(s.die)
	})
	if err := s.Conn.Close(); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

func (s *Stream) writeFrame(cmd uint8, offset uint32, body []byte) error {
	hdr := newFrameHeader(cmd, offset)
	buf := make([]byte, len(hdr)+len(body))
	n := copy(buf, hdr[:])
	copy(buf[n:], body)
	s.log("sending frame cmd=%d offset=%d len=%d", cmd, offset, len(body))
	_, err := s.Conn.Write(buf)
	return err
}

func (s *Stream) getReadError() error {
	if err, ok := s.recvErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Stream) handleReadError(err error) {
	s.recvErr.Store(err)
	util.AsyncNotifyErr(s.recvErrCh, err)
	// A broken transport unblocks both directions; internalClose can't be
	// used here since it would wg.Wait() on this very goroutine.
	s.closeOnce.Do(func() {
		close(s.die)
	})
}
