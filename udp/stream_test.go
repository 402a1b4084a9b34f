package udp

import (
	"io"
	"math/rand"
	"testing"

	"yamux-toolkit/netem"
	"yamux-toolkit/util/mocks"

	"github.com/stretchr/testify/require"
)

// A lossy, duplicating link still delivers every byte exactly once and in
// order: loss forces sendChunk's retransmit timer, duplication exercises
// the receiver's offset check and the sender's duplicate-ack tolerance.
func TestStreamSurvivesLossAndDuplication(t *testing.T) {
	require := require.New(t)

	netemCfg := netem.Config{
		WriteLossNth:      7,
		WriteDuplicateNth: 5,
	}
	streamCfg := DefaultStreamConfig()
	streamCfg.FragmentSize = 64

	rnd := rand.New(rand.NewSource(1))
	expected := make([]byte, 4096)
	_, err := io.ReadFull(rnd, expected)
	require.Nil(err)

	c1, c2 := mocks.Conn()
	s1 := NewStream(netem.New(c1, netemCfg), streamCfg)
	s2 := NewStream(netem.New(c2, netemCfg), streamCfg)
	defer s1.Close()
	defer s2.Close()

	writeErrCh := make(chan error, 1)
	go func() {
		_, err := s1.Write(expected)
		writeErrCh <- err
	}()

	buf := make([]byte, len(expected))
	_, err = io.ReadFull(s2, buf)
	require.Nil(err)
	require.Equal(expected, buf)
	require.Nil(<-writeErrCh)
}

func TestStreamHandshakeSkippedWithPeerFragmentSize(t *testing.T) {
	require := require.New(t)
	c1, c2 := mocks.Conn()

	cfg1 := DefaultStreamConfig()
	cfg1.PeerFragmentSize = 128
	cfg2 := DefaultStreamConfig()
	cfg2.PeerFragmentSize = 128

	s1 := NewStream(c1, cfg1)
	s2 := NewStream(c2, cfg2)
	defer s1.Close()
	defer s2.Close()

	require.Nil(s1.Handshake())
	require.Nil(s2.Handshake())

	payload := []byte("no handshake needed")
	_, err := s1.Write(payload)
	require.Nil(err)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(s2, buf)
	require.Nil(err)
	require.Equal(payload, buf)
}
