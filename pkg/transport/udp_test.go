package transport

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageSenderUnmaps(t *testing.T) {
	m := Message{From: netip.MustParseAddrPort("[::ffff:10.0.0.7]:8765")}
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), m.Sender())
}

func TestListenRejectsBadAddress(t *testing.T) {
	_, err := Listen("not-an-address", nil)
	assert.Error(t, err)
}

func TestServeEchoRoundTrip(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	u, err := Listen("127.0.0.1:0", l)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- u.Serve(ctx, func(m Message) bool {
			return u.Send(m.From, m.Payload) == nil
		})
	}()

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(u.LocalAddr()))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello mesh"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello mesh", string(buf[:n]))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
