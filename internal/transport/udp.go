// ABOUTME: UDP datagram transport for the NetClocks protocol
// ABOUTME: Single receive loop delivering inbound packets on a channel
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// ErrNetwork wraps send failures (unreachable host, closed socket). The
// transport never retries; retry cadence belongs to the scheduler.
var ErrNetwork = errors.New("network error")

// maxDatagram is the largest datagram we accept. NetClocks messages are tiny;
// anything bigger is garbage but must not break the read loop.
const maxDatagram = 65535

// Packet is one inbound datagram with its arrival instant.
type Packet struct {
	Addr       *net.UDPAddr
	Data       []byte
	ReceivedAt time.Time
}

// UDP owns the daemon's socket. One goroutine runs the receive loop; any
// goroutine may call Send.
type UDP struct {
	conn    *net.UDPConn
	packets chan Packet
}

// Listen binds the daemon socket.
func Listen(bindAddr string, port int) (*UDP, error) {
	ip := net.ParseIP(bindAddr)
	if ip == nil {
		return nil, fmt.Errorf("invalid bind address %q", bindAddr)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen on %s:%d: %w", bindAddr, port, err)
	}

	return &UDP{
		conn:    conn,
		packets: make(chan Packet, 64),
	}, nil
}

// Run reads datagrams until the context is cancelled or the socket is closed.
// The packets channel is closed on exit.
func (u *UDP) Run(ctx context.Context) {
	defer close(u.packets)

	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("transport: read failed: %v", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case u.packets <- Packet{Addr: addr, Data: data, ReceivedAt: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// Send transmits one datagram. Failures are reported to the caller and never
// retried here.
func (u *UDP) Send(addr *net.UDPAddr, data []byte) error {
	if _, err := u.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrNetwork, addr, err)
	}
	return nil
}

// Packets returns the inbound datagram channel. It is closed when Run exits.
func (u *UDP) Packets() <-chan Packet {
	return u.packets
}

// LocalAddr returns the bound socket address.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket. Run exits shortly after.
func (u *UDP) Close() error {
	return u.conn.Close()
}
