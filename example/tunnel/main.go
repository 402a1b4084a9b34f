// Command tunnel demonstrates stream.Pump splicing a plain TCP connection
// with a yamux.Stream: the client exposes a local TCP port, the server
// forwards each accepted stream to a backend address, one yamux session
// carrying any number of simultaneous forwarded connections.
package main

import (
	"flag"
	"net"

	"yamux-toolkit/example/shared"
	"yamux-toolkit/stream"
	"yamux-toolkit/yamux"
)

var log = shared.NewLogger()

func main() {
	mode := flag.String("mode", "server", "server or client")
	backend := flag.String("backend", "127.0.0.1:22", "server mode: address each forwarded stream is spliced to")
	flag.Parse()

	var err error
	switch *mode {
	case "server":
		err = runServer(*backend)
	case "client":
		err = runClient()
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// runServer accepts the single TCP connection carrying the tunnel client's
// yamux session, then forwards every stream it opens to backend.
func runServer(backend string) error {
	l, err := net.Listen("tcp", shared.GetTunnelAddr())
	if err != nil {
		return err
	}
	defer l.Close()
	log.Infof("tunnel server listening at %s, forwarding to %s", l.Addr(), backend)

	conn, err := l.Accept()
	if err != nil {
		return err
	}

	session, err := yamux.Server(conn, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	pump := stream.New(stream.DefaultConfig())
	for {
		st, err := session.AcceptStream()
		if err != nil {
			return err
		}
		go forwardToBackend(pump, st, backend)
	}
}

func forwardToBackend(pump *stream.Pump, st *yamux.Stream, backend string) {
	defer st.Close()
	conn, err := net.Dial("tcp", backend)
	if err != nil {
		log.Errorf("tunnel: dial backend %s: %v", backend, err)
		return
	}
	defer conn.Close()

	log.Infof("tunnel: stream %d <-> %s", st.ID(), backend)
	aToB, bToA := pump.Run(st, conn)
	log.Debugf("tunnel: stream %d closed (stream->backend: %+v, backend->stream: %+v)", st.ID(), aToB, bToA)
}

// runClient opens a single multiplexed session to the tunnel server and
// exposes a local TCP listener: every local connection becomes one new
// yamux stream on that session.
func runClient() error {
	conn, err := net.Dial("tcp", shared.GetTunnelAddr())
	if err != nil {
		return err
	}

	session, err := yamux.Client(conn, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	l, err := net.Listen("tcp", shared.GetTunnelLocalAddr())
	if err != nil {
		return err
	}
	defer l.Close()
	log.Infof("tunnel client forwarding %s -> %s", l.Addr(), shared.GetTunnelAddr())

	pump := stream.New(stream.DefaultConfig())
	for {
		local, err := l.Accept()
		if err != nil {
			return err
		}
		go forwardToStream(pump, session, local)
	}
}

func forwardToStream(pump *stream.Pump, session *yamux.Session, local net.Conn) {
	defer local.Close()
	st, err := session.OpenStream()
	if err != nil {
		log.Errorf("tunnel: open stream: %v", err)
		return
	}
	defer st.Close()

	log.Infof("tunnel: local %s <-> stream %d", local.RemoteAddr(), st.ID())
	aToB, bToA := pump.Run(local, st)
	log.Debugf("tunnel: stream %d closed (local->stream: %+v, stream->local: %+v)", st.ID(), aToB, bToA)
}
