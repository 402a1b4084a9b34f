package main

import (
	"io"
	"net"
	"os"
	"sync"

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

	// Connect to server
	conn, err := net.Dial("tcp", shared.GetServerTCPAddr())
	if err != nil {
		return err
	}

	encrypted := crypto.New(conn, crypto.DefaultConfig(aead))
	session, err := yamux.Client(encrypted, yamux.DefaultConfig())
	if err != nil {
		return err
	}
	defer session.Close()

	// Open three concurrent streams over the one encrypted connection to
	// show they're independent of each other.
	wg := &sync.WaitGroup{}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := roundTrip(session, i); err != nil && err != io.EOF {
				log.Errorf("stream %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	return nil
}

func roundTrip(session *yamux.Session, i int) error {
	st, err := session.OpenStream()
	if err != nil {
		return err
	}
	defer st.Close()

	message := "Hello, world!"
	log.Infof("Sending to server on stream %d: %s", st.ID(), message)
	if _, err := st.Write([]byte(message)); err != nil {
		return err
	}

	buf := make([]byte, len(message))
	if _, err := io.ReadFull(st, buf); err != nil {
		return err
	}
	log.Infof("Received from server on stream %d: %s", st.ID(), string(buf))
	return nil
}
