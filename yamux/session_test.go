package yamux

import (
	"errors"
	"io"
	"testing"
	"time"

	"yamux-toolkit/netem"
	"yamux-toolkit/stream"
	utilio "yamux-toolkit/util/io"
	"yamux-toolkit/util/mocks"

	"github.com/stretchr/testify/require"
)

func newSessionPair(t *testing.T, clientCfg, serverCfg Config) (*Session, *Session) {
	t.Helper()
	c, s := mocks.Conn()
	client, err := Client(c, clientCfg)
	require.Nil(t, err)
	server, err := Server(s, serverCfg)
	require.Nil(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// S1: a client-opened stream is accepted on the server, and a message
// written on one side is read whole on the other.
func TestSessionOpenAcceptEcho(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

	cs, err := client.OpenStream()
	require.Nil(err)
	require.Equal(uint32(1), cs.ID())

	acceptErrCh := make(chan error, 1)
	var ss *Stream
	go func() {
		var err error
		ss, err = server.AcceptStream()
		acceptErrCh <- err
	}()

	payload := []byte("hello yamux")
	n, err := cs.Write(payload)
	require.Nil(err)
	require.Equal(len(payload), n)

	require.Nil(<-acceptErrCh)
	require.Equal(uint32(1), ss.ID())

	buf := make([]byte, len(payload))
	n, err = io.ReadFull(ss, buf)
	require.Nil(err)
	require.Equal(len(payload), n)
	require.Equal(payload, buf)
}

// S2: a tiny receive window forces the writer to block until the reader
// drains and the resulting window update arrives.
func TestSessionBackpressure(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.MaxStreamWindowSize = 16
	client, server := newSessionPair(t, cfg, cfg)

	cs, err := client.OpenStream()
	require.Nil(err)

	var ss *Stream
	acceptDone := make(chan struct{})
	go func() {
		ss, _ = server.AcceptStream()
		close(acceptDone)
	}()

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeDone := make(chan struct{})
	var n int
	var writeErr error
	go func() {
		n, writeErr = cs.Write(payload)
		close(writeDone)
	}()

	<-acceptDone
	buf := make([]byte, len(payload))
	_, err = io.ReadFull(ss, buf)
	require.Nil(err)

	select {
	case <-writeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not unblock after the reader drained the window")
	}
	require.Nil(writeErr)
	require.Equal(len(payload), n)
	require.Equal(payload, buf)
}

// A graceful Close on one end delivers io.EOF, not ConnectionReset, to
// the peer once its own buffered data has been read.
func TestSessionGracefulHalfClose(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

	cs, err := client.OpenStream()
	require.Nil(err)

	acceptDone := make(chan struct{})
	var ss *Stream
	go func() {
		ss, _ = server.AcceptStream()
		close(acceptDone)
	}()

	_, err = cs.Write([]byte("x"))
	require.Nil(err)
	<-acceptDone

	buf := make([]byte, 1)
	_, err = io.ReadFull(ss, buf)
	require.Nil(err)

	require.Nil(cs.Close())

	_, err = ss.Read(buf)
	require.Equal(io.EOF, err)
}

// S3: Reset delivers ErrConnectionReset to the peer.
func TestSessionReset(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

	cs, err := client.OpenStream()
	require.Nil(err)

	acceptDone := make(chan struct{})
	var ss *Stream
	go func() {
		ss, _ = server.AcceptStream()
		close(acceptDone)
	}()

	_, err = cs.Write([]byte("x"))
	require.Nil(err)
	<-acceptDone

	require.Nil(cs.Reset())

	buf := make([]byte, 64)
	_, err = ss.Read(buf)
	require.Equal(ErrConnectionReset, err)
}

// S5: once the accept backlog is exhausted, further remotely-opened
// streams queue as pending admission instead of being dropped; they
// surface as soon as a slot frees up.
func TestSessionBacklogAdmission(t *testing.T) {
	require := require.New(t)
	cfg := DefaultConfig()
	cfg.AcceptBacklog = 1
	client, server := newSessionPair(t, cfg, cfg)

	cs1, err := client.OpenStream()
	require.Nil(err)
	_, err = cs1.Write([]byte("a"))
	require.Nil(err)

	cs2, err := client.OpenStream()
	require.Nil(err)
	_, err = cs2.Write([]byte("b"))
	require.Nil(err)

	ss1, err := server.AcceptStream()
	require.Nil(err)
	require.Equal(uint32(1), ss1.ID())

	select {
	case <-server.acceptCh:
		t.Fatal("second stream should not be exposed while the backlog is full")
	case <-time.After(50 * time.Millisecond):
	}

	// Reset (rather than Close) terminates the stream immediately without
	// waiting on a peer FIN, so the backlog permit frees deterministically.
	require.Nil(ss1.Reset())

	ss2, err := server.AcceptStream()
	require.Nil(err)
	require.Equal(uint32(3), ss2.ID())
}

// S6: local GoAway rejects further local opens with ErrSessionShutdown;
// remote GoAway rejects further local opens with ErrRemoteGoAway. Neither
// tears down streams already open.
func TestSessionGoAway(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		require := require.New(t)
		client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

		cs, err := client.OpenStream()
		require.Nil(err)
		_, err = cs.Write([]byte("x"))
		require.Nil(err)
		_, err = server.AcceptStream()
		require.Nil(err)

		require.Nil(client.GoAway(GoAwayNormal))
		_, err = client.OpenStream()
		require.Equal(ErrSessionShutdown, err)

		n, err := cs.Write([]byte("still alive"))
		require.Nil(err)
		require.Equal(len("still alive"), n)
	})

	t.Run("remote", func(t *testing.T) {
		require := require.New(t)
		client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

		require.Nil(server.GoAway(GoAwayNormal))
		require.Eventually(func() bool {
			client.mu.Lock()
			defer client.mu.Unlock()
			return client.remoteGoAway
		}, time.Second, 5*time.Millisecond)

		_, err := client.OpenStream()
		require.Equal(ErrRemoteGoAway, err)
	})
}

func TestSessionPing(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())
	_ = server

	d, err := client.Ping()
	require.Nil(err)
	require.True(d >= 0)
}

// A session tolerates an underlying pipe that fragments every read and
// write into small chunks, since every frame is read with io.ReadFull
// rather than assuming one Read call returns one frame.
func TestSessionToleratesFragmentedPipe(t *testing.T) {
	require := require.New(t)
	c, s := mocks.Conn()

	netemCfg := netem.DefaultConfig()
	netemCfg.ReadFragmentSize = 3
	netemCfg.WriteFragmentSize = 3
	fragmented := netem.New(s, netemCfg)

	client, err := Client(c, DefaultConfig())
	require.Nil(err)
	server, err := Server(fragmented, DefaultConfig())
	require.Nil(err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	cs, err := client.OpenStream()
	require.Nil(err)

	acceptDone := make(chan struct{})
	var ss *Stream
	go func() {
		ss, _ = server.AcceptStream()
		close(acceptDone)
	}()

	payload := []byte("a payload long enough to span many 3-byte fragments")
	_, err = cs.Write(payload)
	require.Nil(err)
	<-acceptDone

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(ss, buf)
	require.Nil(err)
	require.Equal(payload, buf)
}

// S7: a link so lossy that nothing ever arrives is, for writeFrame's
// purposes, indistinguishable from a plain io.Pipe half nobody ever drains
// — both block the underlying Write forever. util.io.NewReadWriteCloser
// (the teacher's helper for stitching a split reader/writer into one
// io.ReadWriteCloser) builds exactly that: a pipe that isn't a net.Conn, so
// writeFrame takes its goroutine-plus-time.After fallback rather than
// SetWriteDeadline, and the abandoned Write only unblocks once fatal
// closes it.
func TestSessionWriteTimeoutOnDeadPeer(t *testing.T) {
	require := require.New(t)

	inboundR, _ := io.Pipe()
	_, outboundW := io.Pipe()
	pipe := utilio.NewReadWriteCloser(inboundR, outboundW)

	cfg := DefaultConfig()
	cfg.ConnectionWriteTimeout = 30 * time.Millisecond

	client, err := Client(pipe, cfg)
	require.Nil(err)
	defer client.Close()

	cs, err := client.OpenStream()
	require.Nil(err)

	_, err = cs.Write([]byte("nobody is ever going to read this"))
	require.True(errors.Is(err, ErrConnectionWriteTimeout))
}

// S4: two consecutive unacknowledged keep-alive pings shut the session down
// with ErrKeepAliveTimeout rather than leaving it hanging indefinitely.
func TestSessionKeepAliveDetectsDeadPeer(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()
	// Drain c2 so every write from c1 completes quickly, but never answer a
	// ping: the peer looks reachable at the transport level yet never
	// replies, which is exactly what keepAliveLoop exists to catch.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := c2.Read(buf); err != nil {
				return
			}
		}
	}()

	cfg := DefaultConfig()
	cfg.EnableKeepAlive = true
	cfg.KeepAliveInterval = 15 * time.Millisecond
	cfg.ConnectionWriteTimeout = 20 * time.Millisecond

	client, err := Client(c1, cfg)
	require.Nil(err)
	defer client.Close()

	require.Eventually(func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.shutdown
	}, 2*time.Second, 10*time.Millisecond)

	client.mu.Lock()
	err = client.shutdownErr
	client.mu.Unlock()
	require.True(errors.Is(err, ErrKeepAliveTimeout))
}

// S8: stream.Pump correctly splices a local byte pipe with a yamux Stream
// end to end through a full session round trip, the shape example/tunnel
// uses to forward a local connection through a multiplexed session.
func TestSessionStreamPumpRoundTrip(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

	cs, err := client.OpenStream()
	require.Nil(err)

	acceptDone := make(chan struct{})
	var ss *Stream
	go func() {
		ss, _ = server.AcceptStream()
		close(acceptDone)
	}()

	localApp, localTunnelEnd := mocks.Conn()
	pump := stream.New(stream.DefaultConfig())
	pumpDone := make(chan struct{})
	go func() {
		pump.Run(localTunnelEnd, cs)
		close(pumpDone)
	}()

	// cs carries its SYN on its first Write, which the pump only makes once
	// localApp has written, so the server cannot accept before this.
	payload := []byte("round trip through a tunnel")
	_, err = localApp.Write(payload)
	require.Nil(err)

	<-acceptDone
	go func() {
		// Stands in for a backend that echoes whatever it receives.
		defer ss.Close()
		buf := make([]byte, 4096)
		for {
			n, err := ss.Read(buf)
			if n > 0 {
				if _, werr := ss.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(localApp, buf)
	require.Nil(err)
	require.Equal(payload, buf)

	require.Nil(localApp.Close())
	<-pumpDone
}

func TestSessionCloseResetsOpenStreams(t *testing.T) {
	require := require.New(t)
	client, server := newSessionPair(t, DefaultConfig(), DefaultConfig())

	cs, err := client.OpenStream()
	require.Nil(err)
	_, err = cs.Write([]byte("x"))
	require.Nil(err)
	ss, err := server.AcceptStream()
	require.Nil(err)

	require.Nil(client.Close())

	buf := make([]byte, 1)
	_, err = ss.Read(buf)
	require.Equal(ErrConnectionReset, err)
}
