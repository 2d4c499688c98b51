// ABOUTME: UDP client for talking to a NetClocks node
// ABOUTME: One request/response exchange per call over a dialed socket
package netclocks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/protocol"
)

// DefaultTimeout bounds an exchange when the context has no deadline.
const DefaultTimeout = 3 * time.Second

// ErrUnexpectedReply is returned when the node answers with the wrong
// message type.
var ErrUnexpectedReply = errors.New("unexpected reply type")

// ProbeResult is one measured exchange with the node.
type ProbeResult struct {
	// Offset is the node clock minus the local wall clock, in ms.
	Offset int64
	// RTT is the round trip time in ms.
	RTT int64
	// Level is the node's sync level (255 = unsynchronized).
	Level byte
}

// Client talks to a single NetClocks node.
type Client struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

// Dial connects to a node at "host:port".
func Dial(target string) (*Client, error) {
	addr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	return &Client{conn: conn, addr: addr}, nil
}

// Close releases the client socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Addr returns the node address the client talks to.
func (c *Client) Addr() *net.UDPAddr {
	return c.addr
}

// exchange sends one datagram and decodes the next reply.
func (c *Client) exchange(ctx context.Context, req []byte) (protocol.Message, error) {
	deadline := time.Now().Add(DefaultTimeout)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return protocol.Message{}, err
	}

	if _, err := c.conn.Write(req); err != nil {
		return protocol.Message{}, fmt.Errorf("sending request: %w", err)
	}

	buf := make([]byte, 65535)
	n, err := c.conn.Read(buf)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("awaiting reply: %w", err)
	}
	return protocol.Decode(buf[:n])
}

// GetTime asks the node for its current time. The returned level is 255
// when the node is unsynchronized, in which case the time is the node's
// uptime clock.
func (c *Client) GetTime(ctx context.Context) (timeMs int64, level byte, err error) {
	msg, err := c.exchange(ctx, protocol.EncodeEmpty(protocol.MsgGetTime))
	if err != nil {
		return 0, 0, err
	}
	if msg.Type != protocol.MsgTime {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnexpectedReply, msg.Type)
	}
	return int64(msg.Timestamp), msg.SyncLevel, nil
}

// Probe runs one delay exchange and reports the node's offset from the
// local wall clock.
func (c *Client) Probe(ctx context.Context) (ProbeResult, error) {
	t1 := time.Now()
	msg, err := c.exchange(ctx, protocol.EncodeEmpty(protocol.MsgDelayRequest))
	if err != nil {
		return ProbeResult{}, err
	}
	t4 := time.Now()
	if msg.Type != protocol.MsgDelayResponse {
		return ProbeResult{}, fmt.Errorf("%w: %v", ErrUnexpectedReply, msg.Type)
	}

	rtt := t4.Sub(t1).Milliseconds()
	midpoint := t1.UnixMilli() + rtt/2
	return ProbeResult{
		Offset: int64(msg.Timestamp) - midpoint,
		RTT:    rtt,
		Level:  msg.SyncLevel,
	}, nil
}

// Hello introduces this client and returns the peers the node knows,
// as "host:port" strings.
func (c *Client) Hello(ctx context.Context) ([]string, error) {
	msg, err := c.exchange(ctx, protocol.EncodeEmpty(protocol.MsgHello))
	if err != nil {
		return nil, err
	}
	if msg.Type != protocol.MsgHelloReply {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedReply, msg.Type)
	}

	peers := make([]string, 0, len(msg.Peers))
	for _, rec := range msg.Peers {
		peers = append(peers, rec.HostPort())
	}
	return peers, nil
}

// Connect performs the CONNECT handshake with the node.
func (c *Client) Connect(ctx context.Context) error {
	msg, err := c.exchange(ctx, protocol.EncodeEmpty(protocol.MsgConnect))
	if err != nil {
		return err
	}
	if msg.Type != protocol.MsgAckConnect {
		return fmt.Errorf("%w: %v", ErrUnexpectedReply, msg.Type)
	}
	return nil
}

// BecomeLeader instructs the node to serve as the level-0 time source.
// The node does not acknowledge leader commands.
func (c *Client) BecomeLeader() error {
	_, err := c.conn.Write(protocol.EncodeLeader(protocol.LeaderBegin))
	return err
}

// ResignLeader revokes the node's leadership.
func (c *Client) ResignLeader() error {
	_, err := c.conn.Write(protocol.EncodeLeader(protocol.LeaderStop))
	return err
}
