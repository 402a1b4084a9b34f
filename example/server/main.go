package main

import (
	"crypto/cipher"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"yamux-toolkit/crypto"
	"yamux-toolkit/example/shared"
	"yamux-toolkit/yamux"

	"github.com/sirupsen/logrus"
)

var log = &logrus.Logger{
	Out:   os.Stdout,
	Level: logrus.DebugLevel,
	Formatter: &logrus.TextFormatter{
		FullTimestamp: true,
	},
}

func main() {
	if err := start(); err != nil {
		log.Fatal(err)
	}
}

func start() error {
	// Initialize the AEAD
	aead := shared.CreateAEAD()

	// Initialize the listener
	l, err := net.Listen("tcp", shared.GetServerTCPAddr())
	if err != nil {
		return err
	}
	log.Infof("Server listening at %s", l.Addr())

	// Start listening
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go listenRoutine(wg, l, aead)

	// Handle signals
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	log.Infof("Received signal %+v", <-ch)

	// Cleanup
	l.Close()
	wg.Wait()
	return nil
}

func listenRoutine(wg *sync.WaitGroup, l net.Listener, aead cipher.AEAD) {
	defer wg.Done()
	if err := listen(wg, l, aead); err != nil && err != io.EOF {
		log.Errorf("Listen error: %+v", err)
	}
}

func listen(wg *sync.WaitGroup, l net.Listener, aead cipher.AEAD) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		wg.Add(1)
		go serveRoutine(wg, conn, aead)
	}
}

func serveRoutine(wg *sync.WaitGroup, conn net.Conn, aead cipher.AEAD) {
	defer wg.Done()
	if err := serve(conn, aead); err != nil && err != io.EOF {
		log.Errorf("Serve error: %+v", err)
	}
}

// serve wraps the raw TCP connection with AEAD encryption and hands the
// result to a yamux server session: every stream the client opens on it is
// echoed back independently, so a single encrypted connection multiplexes
// any number of concurrent requests.
func serve(conn net.Conn, aead cipher.AEAD) error {
	addr := conn.RemoteAddr()
	encrypted := crypto.New(conn, crypto.DefaultConfig(aead))

	session, err := yamux.Server(encrypted, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	for {
		st, err := session.AcceptStream()
		if err != nil {
			return err
		}
		go echoStream(addr, st)
	}
}

func echoStream(addr net.Addr, st *yamux.Stream) {
	defer st.Close()
	buf := make([]byte, 65535)
	for {
		n, err := st.Read(buf)
		if n > 0 {
			msg := buf[:n]
			log.Infof("Received from client %s on stream %d: %s", addr, st.ID(), string(msg))
			if _, werr := st.Write(msg); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
