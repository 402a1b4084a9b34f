package yamux

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"

	"yamux-toolkit/util"
	uerrors "yamux-toolkit/util/errors"
)

type streamState uint8

const (
	streamInit streamState = iota
	streamSYNSent
	streamSYNReceived
	streamEstablished
	streamLocalClose
	streamRemoteClose
	streamClosed
	streamReset
)

func (st streamState) String() string {
	switch st {
	case streamInit:
		return "init"
	case streamSYNSent:
		return "syn-sent"
	case streamSYNReceived:
		return "syn-received"
	case streamEstablished:
		return "established"
	case streamLocalClose:
		return "local-close"
	case streamRemoteClose:
		return "remote-close"
	case streamClosed:
		return "closed"
	case streamReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Stream is one bidirectional ordered byte channel multiplexed over a
// Session, per spec §4.3. It implements net.Conn so application code that
// already speaks net.Conn (e.g. the tunnel helper in package stream) can
// use it directly.
type Stream struct {
	session        *Session
	id             uint32
	remotelyOpened bool

	mu sync.Mutex

	state      streamState
	sendWindow uint32
	recvWindow uint32
	recvBuf    bytes.Buffer

	recvNotify chan struct{}
	sendNotify chan struct{}

	readDeadline  time.Time
	writeDeadline time.Time

	openTimer  *time.Timer
	closeTimer *time.Timer

	die       chan struct{}
	dieClosed bool
}

var _ net.Conn = (*Stream)(nil)

func newStream(session *Session, id uint32, state streamState) *Stream {
	window := session.cfg.MaxStreamWindowSize
	return &Stream{
		session:    session,
		id:         id,
		state:      state,
		sendWindow: window,
		recvWindow: window,
		recvNotify: make(chan struct{}),
		sendNotify: make(chan struct{}),
		die:        make(chan struct{}),
	}
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint32 {
	return s.id
}

func (s *Stream) notifyRecvLocked() {
	close(s.recvNotify)
	s.recvNotify = make(chan struct{})
}

func (s *Stream) notifySendLocked() {
	close(s.sendNotify)
	s.sendNotify = make(chan struct{})
}

func (s *Stream) closeDieLocked() {
	if !s.dieClosed {
		s.dieClosed = true
		close(s.die)
	}
}

func (s *Stream) stopTimersLocked() {
	if s.openTimer != nil {
		s.openTimer.Stop()
		s.openTimer = nil
	}
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
}

func (s *Stream) armOpenTimerLocked() {
	timeout := s.session.cfg.StreamOpenTimeout
	if timeout <= 0 {
		return
	}
	s.openTimer = time.AfterFunc(timeout, func() {
		s.mu.Lock()
		stillWaiting := s.state == streamSYNSent
		s.mu.Unlock()
		if stillWaiting {
			s.session.fatal(ErrStreamOpenTimeout)
		}
	})
}

func (s *Stream) armCloseTimerLocked() {
	timeout := s.session.cfg.StreamCloseTimeout
	if timeout <= 0 {
		return
	}
	s.closeTimer = time.AfterFunc(timeout, func() {
		s.forceReset()
	})
}

// forceReset is invoked by the close timer: the peer never FIN'd back, so
// we give up on a graceful half-close and reset the stream outright.
func (s *Stream) forceReset() {
	s.mu.Lock()
	if s.state == streamClosed || s.state == streamReset {
		s.mu.Unlock()
		return
	}
	s.state = streamReset
	s.notifyRecvLocked()
	s.notifySendLocked()
	s.stopTimersLocked()
	s.closeDieLocked()
	s.mu.Unlock()
	s.session.sendRSTFrame(s.id)
	s.session.closeStream(s.id)
}

// abortLocal is invoked by the session's fatal teardown: the pipe itself
// is going away, so there is no point attempting a network send. Every
// blocked Read/Write simply observes ConnectionReset.
func (s *Stream) abortLocal() error {
	s.mu.Lock()
	if s.state == streamClosed || s.state == streamReset {
		s.mu.Unlock()
		return nil
	}
	s.state = streamReset
	s.notifyRecvLocked()
	s.notifySendLocked()
	s.stopTimersLocked()
	s.closeDieLocked()
	s.mu.Unlock()
	s.session.closeStream(s.id)
	return nil
}

// streamEffect carries the session-visible side effects of a state
// transition computed while holding the stream lock, applied by the
// caller once the lock is released.
type streamEffect struct {
	establishedNow bool
	destroyNow     bool
	resetNow       bool
	sendRST        bool
	err            error
}

func (s *Stream) applyEffect(eff streamEffect) {
	if eff.sendRST {
		s.session.sendRSTFrame(s.id)
	}
	if eff.destroyNow || eff.resetNow {
		s.session.closeStream(s.id)
	}
	if eff.establishedNow {
		s.session.onStreamEstablished(s.id)
	}
}

// processFlagsLocked applies spec §4.3's processFlags state table. Called
// for both onData and onWindowUpdate, since either frame type may carry
// SYN/ACK/FIN/RST.
func (s *Stream) processFlagsLocked(flags Flag) streamEffect {
	var eff streamEffect

	if flags.has(FlagACK) && s.state == streamSYNSent {
		s.state = streamEstablished
		s.stopTimersLocked()
		eff.establishedNow = true
	}

	if flags.has(FlagFIN) {
		switch s.state {
		case streamSYNSent, streamSYNReceived, streamEstablished:
			s.state = streamRemoteClose
			s.notifyRecvLocked()
		case streamLocalClose:
			s.state = streamClosed
			s.notifyRecvLocked()
			s.stopTimersLocked()
			eff.destroyNow = true
		case streamClosed, streamReset:
			// terminal: a duplicate or late FIN is silently absorbed.
		default:
			s.state = streamReset
			s.notifyRecvLocked()
			s.notifySendLocked()
			s.stopTimersLocked()
			s.closeDieLocked()
			eff.resetNow = true
			eff.sendRST = true
			eff.err = ErrUnexpectedFlag
		}
	}

	if flags.has(FlagRST) && s.state != streamReset && s.state != streamClosed {
		s.state = streamReset
		s.notifyRecvLocked()
		s.notifySendLocked()
		s.stopTimersLocked()
		s.closeDieLocked()
		eff.resetNow = true
	}

	return eff
}

// onData is called by the session's read loop once a Data frame's payload
// has been read off the pipe.
func (s *Stream) onData(flags Flag, payload []byte) error {
	s.mu.Lock()
	eff := s.processFlagsLocked(flags)
	if eff.err == nil && uint32(len(payload)) > s.recvWindow {
		s.state = streamReset
		s.notifyRecvLocked()
		s.notifySendLocked()
		s.stopTimersLocked()
		s.closeDieLocked()
		eff.resetNow = true
		eff.sendRST = true
		eff.err = ErrRecvWindowExceeded
	} else if eff.err == nil {
		s.recvWindow -= uint32(len(payload))
		if len(payload) > 0 {
			s.recvBuf.Write(payload)
		}
		s.notifyRecvLocked()
	}
	s.mu.Unlock()
	s.applyEffect(eff)
	return eff.err
}

// onWindowUpdate is called by the session's read loop for WindowUpdate
// frames. It doubles as the FIN/RST-only-frame carrier per the preserved
// "WindowUpdate framing bug" design note.
func (s *Stream) onWindowUpdate(flags Flag, delta uint32) error {
	s.mu.Lock()
	eff := s.processFlagsLocked(flags)
	if eff.err == nil {
		s.sendWindow += delta
		s.notifySendLocked()
	}
	s.mu.Unlock()
	s.applyEffect(eff)
	return eff.err
}

// Read implements io.Reader. It blocks until bytes are buffered, the peer
// half-closes (EOF), or the stream is reset. Once the stream is reset it
// returns ErrConnectionReset, even if unread bytes are still buffered.
func (s *Stream) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	for {
		if s.state == streamReset {
			s.mu.Unlock()
			return 0, ErrConnectionReset
		}
		if s.recvBuf.Len() > 0 {
			n, _ := s.recvBuf.Read(b)
			s.mu.Unlock()
			s.sendWindowUpdate(0)
			return n, nil
		}
		switch s.state {
		case streamRemoteClose, streamClosed:
			s.mu.Unlock()
			return 0, io.EOF
		}
		notify := s.recvNotify
		deadline := s.readDeadline
		s.mu.Unlock()

		var timeoutCh <-chan time.Time
		if !deadline.IsZero() {
			timer := time.NewTimer(time.Until(deadline))
			defer timer.Stop()
			timeoutCh = timer.C
		}
		select {
		case <-notify:
		case <-timeoutCh:
			return 0, uerrors.ErrTimeout
		case <-s.die:
			s.mu.Lock()
			st := s.state
			s.mu.Unlock()
			if st == streamReset {
				return 0, ErrConnectionReset
			}
			return 0, io.EOF
		}
		s.mu.Lock()
	}
}

// Write implements io.Writer per spec §4.3's send path: it chunks under
// the current send window, blocking when the window is exhausted, and
// carries the open/accept handshake flags on the first frame it emits.
func (s *Stream) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		s.mu.Lock()
		switch s.state {
		case streamLocalClose, streamRemoteClose, streamClosed:
			s.mu.Unlock()
			return total, ErrStreamClosed
		case streamReset:
			s.mu.Unlock()
			return total, ErrConnectionReset
		}

		for s.sendWindow == 0 {
			notify := s.sendNotify
			deadline := s.writeDeadline
			s.mu.Unlock()

			var timeoutCh <-chan time.Time
			if !deadline.IsZero() {
				timer := time.NewTimer(time.Until(deadline))
				defer timer.Stop()
				timeoutCh = timer.C
			}
			select {
			case <-notify:
			case <-timeoutCh:
				return total, uerrors.ErrTimeout
			case <-s.die:
				s.mu.Lock()
				st := s.state
				s.mu.Unlock()
				if st == streamReset {
					return total, ErrConnectionReset
				}
				return total, ErrStreamClosed
			}
			s.mu.Lock()
			switch s.state {
			case streamLocalClose, streamRemoteClose, streamClosed:
				s.mu.Unlock()
				return total, ErrStreamClosed
			case streamReset:
				s.mu.Unlock()
				return total, ErrConnectionReset
			}
		}

		remaining := uint32(len(b) - total)
		k := s.sendWindow
		if remaining < k {
			k = remaining
		}

		var flags Flag
		switch s.state {
		case streamInit:
			flags |= FlagSYN
			s.state = streamSYNSent
			s.armOpenTimerLocked()
		case streamSYNReceived:
			flags |= FlagACK
			s.state = streamEstablished
		}
		s.sendWindow -= k
		chunk := make([]byte, k)
		copy(chunk, b[total:total+int(k)])
		s.mu.Unlock()

		hdr := encodeDataOrWindowUpdate(TypeData, flags, s.id, k)
		if err := s.session.sendFrame(hdr, chunk); err != nil {
			return total, err
		}
		total += int(k)
	}
	return total, nil
}

// sendWindowUpdate implements spec §4.3's window-update policy: grant more
// receive credit once at least half the maximum window is reclaimable, or
// whenever non-zero flags need to ride along.
func (s *Stream) sendWindowUpdate(flags Flag) {
	s.mu.Lock()
	max := s.session.cfg.MaxStreamWindowSize
	buffered := uint32(s.recvBuf.Len())
	used := buffered + s.recvWindow
	var delta uint32
	if max > used {
		delta = max - used
	}
	if delta < max/2 && flags == 0 {
		s.mu.Unlock()
		return
	}
	s.recvWindow += delta
	s.mu.Unlock()

	hdr := encodeDataOrWindowUpdate(TypeWindowUpdate, flags, s.id, delta)
	s.session.sendFrame(hdr, nil)
}

// Close gracefully half-closes the stream per spec §4.3.
func (s *Stream) Close() error {
	s.mu.Lock()
	switch s.state {
	case streamClosed, streamReset:
		s.mu.Unlock()
		return nil
	case streamInit:
		// Peer never learned of this stream (SYN is deferred to the
		// first Write); there is nothing to FIN.
		s.state = streamClosed
		s.mu.Unlock()
		s.session.closeStream(s.id)
		return nil
	}

	destroyNow := s.state == streamLocalClose || s.state == streamRemoteClose
	if destroyNow {
		s.state = streamClosed
	} else {
		s.state = streamLocalClose
		s.armCloseTimerLocked()
	}
	s.mu.Unlock()

	var sendErr error
	if !s.session.IsClosed() {
		hdr := encodeDataOrWindowUpdate(TypeWindowUpdate, FlagFIN, s.id, 0)
		sendErr = s.session.sendFrame(hdr, nil)
	}
	if destroyNow {
		s.session.closeStream(s.id)
	}
	return sendErr
}

// Reset abruptly tears down the stream: sends RST, unblocks every pending
// read/write with ConnectionReset, and removes the stream from the
// session's registry.
func (s *Stream) Reset() error {
	s.mu.Lock()
	if s.state == streamReset || s.state == streamClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = streamReset
	s.notifyRecvLocked()
	s.notifySendLocked()
	s.stopTimersLocked()
	s.closeDieLocked()
	s.mu.Unlock()

	err := s.session.sendRSTFrame(s.id)
	s.session.closeStream(s.id)
	return err
}

func (s *Stream) LocalAddr() net.Addr {
	return s.session.addr(true)
}

func (s *Stream) RemoteAddr() net.Addr {
	return s.session.addr(false)
}

func (s *Stream) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

func (s *Stream) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	notify := s.recvNotify
	s.mu.Unlock()
	util.AsyncNotify(notify)
	return nil
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.mu.Lock()
	s.writeDeadline = t
	notify := s.sendNotify
	s.mu.Unlock()
	util.AsyncNotify(notify)
	return nil
}
