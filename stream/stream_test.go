package stream

import (
	"io"
	"testing"

	"yamux-toolkit/util/mocks"

	"github.com/stretchr/testify/require"
)

func TestPumpSplicesBothDirections(t *testing.T) {
	require := require.New(t)

	left1, right1 := mocks.Conn()
	left2, right2 := mocks.Conn()

	p := New(DefaultConfig())
	doneCh := make(chan struct{})
	var aToB Result
	go func() {
		aToB, _ = p.Run(right1, left2)
		close(doneCh)
	}()

	payload := []byte("tunnel this")
	_, err := left1.Write(payload)
	require.Nil(err)

	buf := make([]byte, len(payload))
	_, err = io.ReadFull(right2, buf)
	require.Nil(err)
	require.Equal(payload, buf)

	// Hanging up one end is enough to unwind the whole pump: the EOF it
	// produces finishes one direction cleanly, and that direction closing
	// its destination tears down the other.
	require.Nil(left1.Close())
	<-doneCh

	require.Nil(aToB.Err)
}
