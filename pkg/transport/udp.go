// Package transport moves mesh datagrams between the network and the
// coordinator.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// MaxDatagram is the largest payload read in one call.
const MaxDatagram = 65535

// Message is one inbound datagram. The payload is owned by the receiver.
type Message struct {
	From    netip.AddrPort
	Payload []byte
}

// Sender identifies the message's sender with its port stripped and
// IPv4-in-IPv6 mapping removed.
func (m Message) Sender() netip.Addr {
	return m.From.Addr().Unmap()
}

// UDP is a datagram socket shared by the read loop and outbound sends.
type UDP struct {
	conn *net.UDPConn
	log  logrus.FieldLogger
}

// Listen binds addr, e.g. "[::]:5678".
func Listen(addr string, log logrus.FieldLogger) (*UDP, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(ap))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	return &UDP{
		conn: conn,
		log:  log.WithField("component", "transport"),
	}, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Send writes payload to the given address. Delivery is not confirmed.
func (u *UDP) Send(to netip.AddrPort, payload []byte) error {
	_, err := u.conn.WriteToUDPAddrPort(payload, to)
	return err
}

// Serve reads datagrams and hands each to deliver until ctx is cancelled
// or the socket is closed. deliver returning false means the message was
// dropped by the consumer.
func (u *UDP) Serve(ctx context.Context, deliver func(Message) bool) error {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.log.WithError(err).Warn("UDP read failed")
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		if !deliver(Message{From: from, Payload: payload}) {
			u.log.WithField("node", from.Addr()).Debug("Inbound message dropped by consumer")
		}
	}
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
