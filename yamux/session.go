package yamux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"yamux-toolkit/util"
	uerrors "yamux-toolkit/util/errors"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

const writeQueueSize = 256

type writeRequest struct {
	data   []byte
	result chan<- error
}

type pingWaiter struct {
	ch    chan time.Duration
	start time.Time
}

// Session is the single-connection multiplexer of spec §4.4: it owns the
// underlying pipe, demultiplexes inbound frames onto Streams, serializes
// outbound frames, and drives keep-alive and shutdown.
type Session struct {
	pipe     io.ReadWriteCloser
	cfg      Config
	isClient bool
	log      *logrus.Logger

	mu               sync.Mutex
	streams          map[uint32]*Stream
	inflight         map[uint32]struct{}
	admittedRemote   map[uint32]struct{}
	pendingAdmission []*Stream
	streamIDGen      util.IDGenerator
	localGoAway      bool
	remoteGoAway     bool
	remoteGoAwayCode GoAwayCode
	shutdown         bool
	shutdownErr      error

	acceptCh   chan *Stream
	acceptGate *acceptGate

	pingMu    sync.Mutex
	pings     map[uint32]pingWaiter
	pingIDGen util.IDGenerator

	writeCh chan writeRequest
	bufPool *util.BufferPool

	keepaliveTimer *time.Ticker

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	wg sync.WaitGroup
}

func newSession(pipe io.ReadWriteCloser, cfg Config, isClient bool) *Session {
	cfg = sanitizeConfig(cfg)
	s := &Session{
		pipe:             pipe,
		cfg:              cfg,
		isClient:         isClient,
		log:              cfg.Logger,
		streams:          make(map[uint32]*Stream),
		inflight:         make(map[uint32]struct{}),
		admittedRemote:   make(map[uint32]struct{}),
		acceptCh:         make(chan *Stream, cfg.AcceptBacklog),
		acceptGate:       newAcceptGate(cfg.AcceptBacklog),
		pings:            make(map[uint32]pingWaiter),
		writeCh:          make(chan writeRequest, writeQueueSize),
		shutdownCh:       make(chan struct{}),
		bufPool:          util.NewBufferPool(int(cfg.MaxStreamWindowSize), 0),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	if cfg.EnableKeepAlive {
		s.wg.Add(1)
		go s.keepAliveLoop()
	}
	return s
}

// OpenStream allocates a new locally-initiated Stream. Its SYN is not
// sent until the first Write, per spec §4.4.
func (s *Session) OpenStream() (*Stream, error) {
	return s.OpenStreamContext(context.Background())
}

func (s *Session) OpenStreamContext(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	if s.shutdown {
		err := s.shutdownErr
		s.mu.Unlock()
		return nil, err
	}
	if s.localGoAway {
		s.mu.Unlock()
		return nil, ErrSessionShutdown
	}
	if s.remoteGoAway {
		s.mu.Unlock()
		return nil, ErrRemoteGoAway
	}
	n := s.streamIDGen.Next()
	if n == 0 || n > (math.MaxUint32-1)/2 {
		s.mu.Unlock()
		return nil, ErrStreamsExhausted
	}
	var id uint32
	if s.isClient {
		id = 2*n - 1
	} else {
		id = 2 * n
	}

	st := newStream(s, id, streamInit)
	s.streams[id] = st
	s.inflight[id] = struct{}{}
	s.mu.Unlock()
	return st, nil
}

// AcceptStream blocks until a remotely-opened Stream is available.
func (s *Session) AcceptStream() (*Stream, error) {
	return s.AcceptStreamContext(context.Background())
}

func (s *Session) AcceptStreamContext(ctx context.Context) (*Stream, error) {
	select {
	case st := <-s.acceptCh:
		return st, nil
	case <-s.shutdownCh:
		s.mu.Lock()
		err := s.shutdownErr
		s.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping measures a session-level round trip.
func (s *Session) Ping() (time.Duration, error) {
	return s.PingContext(context.Background())
}

func (s *Session) PingContext(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	if s.shutdown {
		err := s.shutdownErr
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	token := s.pingIDGen.Next()
	ch := make(chan time.Duration, 1)
	start := time.Now()
	s.pingMu.Lock()
	s.pings[token] = pingWaiter{ch: ch, start: start}
	s.pingMu.Unlock()

	if err := s.sendFrame(encodePing(FlagSYN, token), nil); err != nil {
		s.pingMu.Lock()
		delete(s.pings, token)
		s.pingMu.Unlock()
		return 0, err
	}

	select {
	case d := <-ch:
		return d, nil
	case <-s.shutdownCh:
		s.pingMu.Lock()
		delete(s.pings, token)
		s.pingMu.Unlock()
		s.mu.Lock()
		err := s.shutdownErr
		s.mu.Unlock()
		return 0, err
	case <-ctx.Done():
		s.pingMu.Lock()
		delete(s.pings, token)
		s.pingMu.Unlock()
		return 0, ctx.Err()
	}
}

func (s *Session) resolvePing(token uint32) {
	s.pingMu.Lock()
	w, ok := s.pings[token]
	if ok {
		delete(s.pings, token)
	}
	s.pingMu.Unlock()
	if ok {
		select {
		case w.ch <- time.Since(w.start):
		default:
		}
	}
}

// GoAway announces local intent to stop accepting new work. Existing
// streams continue until closed normally, per spec §4.4/S6.
func (s *Session) GoAway(code GoAwayCode) error {
	s.mu.Lock()
	if s.shutdown {
		err := s.shutdownErr
		s.mu.Unlock()
		return err
	}
	s.localGoAway = true
	s.mu.Unlock()
	return s.sendFrame(encodeGoAway(code), nil)
}

// Close tears the session down: every live stream is reset locally with
// ConnectionReset and the underlying pipe is closed. It blocks until the
// read and write loops have actually exited.
func (s *Session) Close() error {
	s.fatal(ErrSessionShutdown)
	s.wg.Wait()
	s.mu.Lock()
	err := s.shutdownErr
	s.mu.Unlock()
	if errors.Is(err, ErrSessionShutdown) {
		return nil
	}
	return err
}

func (s *Session) IsClosed() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

func (s *Session) NumStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *Session) addr(local bool) net.Addr {
	conn, ok := s.pipe.(net.Conn)
	if !ok {
		return nil
	}
	if local {
		return conn.LocalAddr()
	}
	return conn.RemoteAddr()
}

// fatal performs session teardown exactly once, regardless of how many
// goroutines (read loop, a timer, Close) observe the fatal condition
// first. Callers that need to know teardown has finished can rely on
// sync.Once blocking them until the first caller's invocation returns.
func (s *Session) fatal(err error) {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.shutdownErr = err
		s.shutdown = true
		streams := make([]*Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.Unlock()

		s.log.Errorf("yamux: session shutdown: %v", err)
		close(s.shutdownCh)

		var merr *multierror.Error
		for _, st := range streams {
			if rerr := st.abortLocal(); rerr != nil {
				merr = multierror.Append(merr, rerr)
			}
		}
		if s.keepaliveTimer != nil {
			s.keepaliveTimer.Stop()
		}
		if cerr := s.pipe.Close(); cerr != nil {
			merr = multierror.Append(merr, cerr)
		}
		if aggregate := merr.ErrorOrNil(); aggregate != nil {
			s.log.Warnf("yamux: teardown errors: %v", aggregate)
		}
	})
}

func (s *Session) protocolFault(err error) {
	if sendErr := s.sendFrame(encodeGoAway(GoAwayProtocolError), nil); sendErr != nil {
		s.log.Warnf("yamux: failed to send GoAway: %v", sendErr)
	}
	s.fatal(err)
}

func (s *Session) onStreamEstablished(id uint32) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// closeStream removes a terminal Stream from the registry and, if it was
// a remotely-opened stream holding an accept-backlog permit, releases the
// permit and promotes the oldest pending admission, per spec §4.4.
func (s *Session) closeStream(id uint32) {
	s.mu.Lock()
	st, existed := s.streams[id]
	delete(s.streams, id)
	delete(s.inflight, id)

	var promote *Stream
	if existed && st.remotelyOpened {
		if _, admitted := s.admittedRemote[id]; admitted {
			delete(s.admittedRemote, id)
			s.acceptGate.release()
			if len(s.pendingAdmission) > 0 {
				promote = s.pendingAdmission[0]
				s.pendingAdmission = s.pendingAdmission[1:]
			}
		} else {
			for i, p := range s.pendingAdmission {
				if p == st {
					s.pendingAdmission = append(s.pendingAdmission[:i], s.pendingAdmission[i+1:]...)
					break
				}
			}
		}
	}
	s.mu.Unlock()

	if promote == nil {
		return
	}
	if s.acceptGate.tryAcquire() {
		s.mu.Lock()
		s.admittedRemote[promote.id] = struct{}{}
		s.mu.Unlock()
		s.pushAccept(promote)
	} else {
		s.mu.Lock()
		s.pendingAdmission = append([]*Stream{promote}, s.pendingAdmission...)
		s.mu.Unlock()
	}
}

func (s *Session) pushAccept(st *Stream) {
	select {
	case s.acceptCh <- st:
	case <-s.shutdownCh:
	}
}

func (s *Session) validRemoteID(id uint32) bool {
	if id == 0 {
		return false
	}
	// The remote end allocates with the opposite parity of this end.
	if s.isClient {
		return id%2 == 0
	}
	return id%2 == 1
}

// resolveStream implements spec §4.4's shared lookup/SYN-admission logic
// used by both Data and WindowUpdate dispatch.
func (s *Session) resolveStream(hdr Header) (*Stream, error) {
	s.mu.Lock()
	st, exists := s.streams[hdr.StreamID]
	if exists {
		if hdr.Flags.has(FlagSYN) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: id %d", ErrDuplicateStream, hdr.StreamID)
		}
		s.mu.Unlock()
		return st, nil
	}

	if !hdr.Flags.has(FlagSYN) {
		s.mu.Unlock()
		s.sendRSTFrame(hdr.StreamID)
		return nil, nil
	}
	if !s.validRemoteID(hdr.StreamID) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: id %d", ErrInvalidStreamID, hdr.StreamID)
	}
	if s.localGoAway {
		s.mu.Unlock()
		s.sendRSTFrame(hdr.StreamID)
		return nil, nil
	}

	st = newStream(s, hdr.StreamID, streamSYNReceived)
	st.remotelyOpened = true
	s.streams[hdr.StreamID] = st
	admitted := s.acceptGate.tryAcquire()
	if admitted {
		s.admittedRemote[hdr.StreamID] = struct{}{}
	} else {
		s.pendingAdmission = append(s.pendingAdmission, st)
	}
	s.mu.Unlock()

	if admitted {
		s.pushAccept(st)
	}
	return st, nil
}

func (s *Session) acquirePayloadBuf(length uint32) []byte {
	if length <= s.cfg.MaxStreamWindowSize {
		full := s.bufPool.Get()
		return full[:length]
	}
	return make([]byte, length)
}

func (s *Session) releasePayloadBuf(buf []byte) {
	if uint32(cap(buf)) == s.cfg.MaxStreamWindowSize {
		s.bufPool.Put(buf[:cap(buf)])
	}
}

// readLoop is the single per-session frame-dispatch task of spec §4.4.
func (s *Session) readLoop() {
	defer s.wg.Done()
	hdrBuf := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(s.pipe, hdrBuf); err != nil {
			s.fatal(fmt.Errorf("yamux: pipe closed: %w", err))
			return
		}
		hdr, err := DecodeHeader(hdrBuf)
		if err != nil {
			s.protocolFault(err)
			return
		}
		s.log.Debugf("yamux: recv %s flags=%v stream=%d length=%d", hdr.Type, hdr.Flags, hdr.StreamID, hdr.Length)
		if err := s.dispatch(hdr); err != nil {
			return
		}
	}
}

func (s *Session) dispatch(hdr Header) error {
	switch hdr.Type {
	case TypeData:
		return s.handleData(hdr)
	case TypeWindowUpdate:
		return s.handleWindowUpdate(hdr)
	case TypePing:
		return s.handlePing(hdr)
	case TypeGoAway:
		return s.handleGoAway(hdr)
	default:
		return nil
	}
}

func (s *Session) handleData(hdr Header) error {
	var payload []byte
	if hdr.Length > 0 {
		payload = s.acquirePayloadBuf(hdr.Length)
		if _, err := io.ReadFull(s.pipe, payload); err != nil {
			s.fatal(fmt.Errorf("yamux: pipe closed: %w", err))
			return err
		}
	}

	st, err := s.resolveStream(hdr)
	if err != nil {
		s.protocolFault(err)
		s.releasePayloadBuf(payload)
		return err
	}
	if st == nil {
		s.releasePayloadBuf(payload)
		return nil
	}
	if err := st.onData(hdr.Flags, payload); err != nil {
		s.log.Warnf("yamux: stream %d: %v", hdr.StreamID, err)
	}
	s.releasePayloadBuf(payload)
	return nil
}

func (s *Session) handleWindowUpdate(hdr Header) error {
	st, err := s.resolveStream(hdr)
	if err != nil {
		s.protocolFault(err)
		return err
	}
	if st == nil {
		return nil
	}
	if err := st.onWindowUpdate(hdr.Flags, hdr.Length); err != nil {
		s.log.Warnf("yamux: stream %d: %v", hdr.StreamID, err)
	}
	return nil
}

func (s *Session) handlePing(hdr Header) error {
	if hdr.Flags.has(FlagSYN) {
		if err := s.sendFrame(encodePing(FlagACK, hdr.Length), nil); err != nil {
			s.log.Warnf("yamux: failed to ack ping: %v", err)
		}
	}
	if hdr.Flags.has(FlagACK) {
		s.resolvePing(hdr.Length)
	}
	return nil
}

func (s *Session) handleGoAway(hdr Header) error {
	s.mu.Lock()
	s.remoteGoAway = true
	s.remoteGoAwayCode = GoAwayCode(hdr.Length)
	s.mu.Unlock()
	s.log.Infof("yamux: remote GoAway code=%d", hdr.Length)
	return nil
}

// writeLoop is the single task permitted to write to the pipe, per
// invariant 5 (strictly serialized writes).
func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.writeCh:
			err := s.writeFrame(req.data)
			if req.result != nil {
				req.result <- err
			}
			if err != nil {
				s.fatal(fmt.Errorf("yamux: write error: %w", err))
				return
			}
		case <-s.shutdownCh:
			return
		}
	}
}

func (s *Session) writeFrame(data []byte) error {
	if conn, ok := s.pipe.(net.Conn); ok {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.ConnectionWriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
		_, err := conn.Write(data)
		if err != nil {
			if uerrors.IsDeadlineError(err) {
				return ErrConnectionWriteTimeout
			}
			return err
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.pipe.Write(data)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(s.cfg.ConnectionWriteTimeout):
		return ErrConnectionWriteTimeout
	}
}

// sendFrame enqueues a frame for the writer and waits for the result,
// bounded by session shutdown.
func (s *Session) sendFrame(hdr [headerSize]byte, payload []byte) error {
	buf := make([]byte, headerSize+len(payload))
	copy(buf, hdr[:])
	copy(buf[headerSize:], payload)

	resultCh := make(chan error, 1)
	select {
	case s.writeCh <- writeRequest{data: buf, result: resultCh}:
	case <-s.shutdownCh:
		s.mu.Lock()
		err := s.shutdownErr
		s.mu.Unlock()
		return err
	}
	select {
	case err := <-resultCh:
		return err
	case <-s.shutdownCh:
		s.mu.Lock()
		err := s.shutdownErr
		s.mu.Unlock()
		return err
	}
}

func (s *Session) sendRSTFrame(id uint32) error {
	return s.sendFrame(encodeDataOrWindowUpdate(TypeWindowUpdate, FlagRST, id, 0), nil)
}

func (s *Session) keepAliveLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	s.keepaliveTimer = ticker
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectionWriteTimeout)
			_, err := s.PingContext(ctx)
			cancel()
			if err != nil {
				failures++
				s.log.Warnf("yamux: keepalive ping failed (%d/2): %v", failures, err)
				if failures >= 2 {
					s.fatal(ErrKeepAliveTimeout)
					return
				}
				continue
			}
			failures = 0
		case <-s.shutdownCh:
			return
		}
	}
}
