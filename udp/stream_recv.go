package udp

import (
	"sync/atomic"

	"yamux-toolkit/util"
	uerrors "yamux-toolkit/util/errors"
)

func (s *Stream) readLoop() {
	defer s.wg.Done()
	for {
		buf := s.recvPool.Get()
		n, err := s.Conn.Read(buf)
		if err != nil {
			s.recvPool.Put(buf)
			// SetReadDeadline reaches the embedded net.Conn directly, so a
			// caller racing a deadline against the public Read must not
			// tear down this loop — only a real transport failure does.
			if uerrors.IsDeadlineError(err) {
				continue
			}
			s.handleReadError(err)
			return
		}
		if n < headerSize {
			s.recvPool.Put(buf)
			continue
		}
		var hdr frameHeader
		copy(hdr[:], buf[:headerSize])
		body := buf[headerSize:n]

		switch hdr.Cmd() {
		case cmdSYN:
			s.handleSYN(hdr.Offset())
		case cmdACK:
			s.handleACK(hdr.Offset())
		case cmdPSH:
			s.handlePSH(hdr.Offset(), body)
		case cmdFIN:
			//nolint:errcheck
			go s.internalClose(false)
		case cmdRST:
			//nolint:errcheck
			s.internalReset(false)
		}
		s.recvPool.Put(buf)
	}
}

func (s *Stream) handleSYN(peerFragment uint32) {
	atomic.StoreUint32(&s.peerFragment, peerFragment)
	s.handshakeDone.Set(true)
	util.AsyncNotify(s.handshakeCh)
	// Whichever side hears a SYN first, having not yet sent its own, replies
	// immediately instead of waiting for its own Handshake caller to run.
	s.handshakeOnce.Do(func() {
		//nolint:errcheck
		s.writeFrame(cmdSYN, s.fragmentSize, nil)
	})
}

func (s *Stream) handleACK(offset uint32) {
	for {
		cur := atomic.LoadUint32(&s.ackedOffset)
		if offset <= cur {
			break
		}
		if atomic.CompareAndSwapUint32(&s.ackedOffset, cur, offset) {
			break
		}
	}
	util.AsyncNotify(s.ackNotify)
}

func (s *Stream) handlePSH(offset uint32, body []byte) {
	expected := atomic.LoadUint32(&s.recvOffset)
	if offset == expected {
		out := make([]byte, len(body))
		copy(out, body)
		select {
		case s.recvCh <- out:
			atomic.AddUint32(&s.recvOffset, uint32(len(body)))
		case <-s.die:
			return
		}
	}
	//nolint:errcheck
	s.writeFrame(cmdACK, atomic.LoadUint32(&s.recvOffset), nil)
}
