package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utxochain/logging"
)

func TestSendListenRoundTrip(t *testing.T) {
	log := logging.Nop()

	received := make(chan string, 1)
	tr, err := Listen(0, func(data []byte, senderHost string) {
		received <- string(data)
	}, log)
	require.NoError(t, err)
	defer tr.Close()

	addr := tr.listener.Addr().String()
	require.NoError(t, Send(addr, []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestSendAsyncLogsFailureWithoutBlocking(t *testing.T) {
	log := logging.Nop()
	SendAsync("127.0.0.1:1", []byte("x"), log)
}

func TestCloseStopsAcceptLoop(t *testing.T) {
	log := logging.Nop()
	tr, err := Listen(0, func(data []byte, senderHost string) {}, log)
	require.NoError(t, err)
	addr := tr.listener.Addr().String()

	require.NoError(t, tr.Close())
	time.Sleep(50 * time.Millisecond)
	assert.Error(t, Send(addr, []byte("after close")))
}
