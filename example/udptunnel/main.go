// Command udptunnel demonstrates yamux.Session running over udp.Stream
// instead of TCP: a reliable ordered byte pipe built from raw per-peer UDP
// datagrams, used as the transport a Session multiplexes streams over.
package main

import (
	"flag"
	"io"
	"net"

	"yamux-toolkit/example/shared"
	"yamux-toolkit/udp"
	"yamux-toolkit/yamux"
)

var log = shared.NewLogger()

func main() {
	mode := flag.String("mode", "server", "server or client")
	flag.Parse()

	var err error
	switch *mode {
	case "server":
		err = runServer()
	case "client":
		err = runClient()
	default:
		log.Fatalf("unknown mode %q", *mode)
	}
	if err != nil && err != io.EOF {
		log.Fatal(err)
	}
}

func runServer() error {
	laddr := shared.GetServerAddr()
	listener, err := udp.Listen("udp", laddr, udp.DefaultConfig())
	if err != nil {
		return err
	}
	defer listener.Close()
	log.Infof("udptunnel server listening at %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			if err := serveConn(conn); err != nil && err != io.EOF {
				log.Errorf("serve %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func serveConn(conn net.Conn) error {
	stream := udp.NewStream(conn, udp.DefaultStreamConfig())
	if err := stream.Handshake(); err != nil {
		return err
	}

	session, err := yamux.Server(stream, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	for {
		st, err := session.AcceptStream()
		if err != nil {
			return err
		}
		go echoStream(st)
	}
}

func echoStream(st *yamux.Stream) {
	defer st.Close()
	buf := make([]byte, 4096)
	for {
		n, err := st.Read(buf)
		if n > 0 {
			log.Infof("udptunnel: echoing %d bytes on stream %d", n, st.ID())
			if _, werr := st.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func runClient() error {
	serverAddr := shared.GetServerAddr()
	localAddr := shared.GetClientAddr()
	listener, err := udp.Listen("udp", localAddr, udp.DefaultConfig())
	if err != nil {
		return err
	}
	defer listener.Close()

	udpSession, err := listener.Dial("udp", serverAddr.String())
	if err != nil {
		return err
	}

	stream := udp.NewStream(udpSession, udp.DefaultStreamConfig())
	if err := stream.Handshake(); err != nil {
		return err
	}

	session, err := yamux.Client(stream, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	ys, err := session.OpenStream()
	if err != nil {
		return err
	}
	defer ys.Close()

	message := "hello over udp"
	if _, err := ys.Write([]byte(message)); err != nil {
		return err
	}

	buf := make([]byte, len(message))
	if _, err := io.ReadFull(ys, buf); err != nil {
		return err
	}
	log.Infof("udptunnel client received: %s", string(buf))
	return nil
}
