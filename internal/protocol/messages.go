// ABOUTME: NetClocks wire message definitions and binary codec
// ABOUTME: One UDP datagram per message: type byte plus big-endian payload
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// MsgType identifies a NetClocks datagram.
type MsgType byte

const (
	MsgHello         MsgType = 1
	MsgHelloReply    MsgType = 2
	MsgConnect       MsgType = 3
	MsgAckConnect    MsgType = 4
	MsgSyncStart     MsgType = 11
	MsgDelayRequest  MsgType = 12
	MsgDelayResponse MsgType = 13
	MsgLeader        MsgType = 21
	MsgGetTime       MsgType = 31
	MsgTime          MsgType = 32
)

// LEADER payload states.
const (
	LeaderBegin byte = 0
	LeaderStop  byte = 255
)

// LevelUnsynchronized is the sync level a node advertises when it has no time
// source. Level 0 is the leader; level k+1 means synced to a level-k source.
const LevelUnsynchronized byte = 255

var (
	ErrEmpty       = errors.New("empty datagram")
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed message payload")
)

// PeerRecord is one known-peer entry in a HELLO_REPLY.
type PeerRecord struct {
	Address string
	Port    uint16
}

// HostPort renders the record as a dialable "host:port" string.
func (r PeerRecord) HostPort() string {
	return net.JoinHostPort(r.Address, strconv.Itoa(int(r.Port)))
}

// Message is a decoded NetClocks datagram. Only the fields relevant to the
// message type are populated.
type Message struct {
	Type        MsgType
	SyncLevel   byte   // SYNC_START, DELAY_RESPONSE, TIME
	Timestamp   uint64 // SYNC_START, DELAY_RESPONSE, TIME: sender clock in ms
	LeaderState byte   // LEADER
	Peers       []PeerRecord
}

func (t MsgType) String() string {
	switch t {
	case MsgHello:
		return "HELLO"
	case MsgHelloReply:
		return "HELLO_REPLY"
	case MsgConnect:
		return "CONNECT"
	case MsgAckConnect:
		return "ACK_CONNECT"
	case MsgSyncStart:
		return "SYNC_START"
	case MsgDelayRequest:
		return "DELAY_REQUEST"
	case MsgDelayResponse:
		return "DELAY_RESPONSE"
	case MsgLeader:
		return "LEADER"
	case MsgGetTime:
		return "GET_TIME"
	case MsgTime:
		return "TIME"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Decode parses one datagram. Payload sizes are validated strictly: a
// truncated or oversized fixed payload is ErrMalformed.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmpty
	}

	msg := Message{Type: MsgType(data[0])}
	payload := data[1:]

	switch msg.Type {
	case MsgHello, MsgConnect, MsgAckConnect, MsgDelayRequest, MsgGetTime:
		if len(payload) != 0 {
			return Message{}, fmt.Errorf("%w: %s carries %d unexpected bytes", ErrMalformed, msg.Type, len(payload))
		}
		return msg, nil

	case MsgSyncStart, MsgDelayResponse, MsgTime:
		if len(payload) != 9 {
			return Message{}, fmt.Errorf("%w: %s payload is %d bytes, want 9", ErrMalformed, msg.Type, len(payload))
		}
		msg.SyncLevel = payload[0]
		msg.Timestamp = binary.BigEndian.Uint64(payload[1:9])
		return msg, nil

	case MsgLeader:
		if len(payload) != 1 {
			return Message{}, fmt.Errorf("%w: LEADER payload is %d bytes, want 1", ErrMalformed, len(payload))
		}
		if payload[0] != LeaderBegin && payload[0] != LeaderStop {
			return Message{}, fmt.Errorf("%w: LEADER state %d", ErrMalformed, payload[0])
		}
		msg.LeaderState = payload[0]
		return msg, nil

	case MsgHelloReply:
		peers, err := decodePeerRecords(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Peers = peers
		return msg, nil

	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownType, data[0])
	}
}

// decodePeerRecords parses the HELLO_REPLY payload: uint16 count followed by
// count records of (uint8 address length, address bytes, uint16 port).
func decodePeerRecords(payload []byte) ([]PeerRecord, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: HELLO_REPLY shorter than peer count", ErrMalformed)
	}
	count := int(binary.BigEndian.Uint16(payload[0:2]))
	rest := payload[2:]

	peers := make([]PeerRecord, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: HELLO_REPLY truncated at record %d", ErrMalformed, i)
		}
		addrLen := int(rest[0])
		if len(rest) < 1+addrLen+2 {
			return nil, fmt.Errorf("%w: HELLO_REPLY truncated at record %d", ErrMalformed, i)
		}
		peers = append(peers, PeerRecord{
			Address: string(rest[1 : 1+addrLen]),
			Port:    binary.BigEndian.Uint16(rest[1+addrLen : 1+addrLen+2]),
		})
		rest = rest[1+addrLen+2:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: HELLO_REPLY has %d trailing bytes", ErrMalformed, len(rest))
	}
	return peers, nil
}

// EncodeEmpty builds a payload-less datagram (HELLO, CONNECT, ACK_CONNECT,
// DELAY_REQUEST, GET_TIME).
func EncodeEmpty(t MsgType) []byte {
	return []byte{byte(t)}
}

// EncodeTimestamped builds a SYNC_START, DELAY_RESPONSE or TIME datagram.
func EncodeTimestamped(t MsgType, level byte, timestampMs uint64) []byte {
	buf := make([]byte, 10)
	buf[0] = byte(t)
	buf[1] = level
	binary.BigEndian.PutUint64(buf[2:10], timestampMs)
	return buf
}

// EncodeLeader builds a LEADER datagram.
func EncodeLeader(state byte) []byte {
	return []byte{byte(MsgLeader), state}
}

// EncodeHelloReply builds a HELLO_REPLY datagram listing the given peers.
func EncodeHelloReply(peers []PeerRecord) []byte {
	buf := make([]byte, 3, 3+len(peers)*8)
	buf[0] = byte(MsgHelloReply)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(peers)))
	for _, p := range peers {
		buf = append(buf, byte(len(p.Address)))
		buf = append(buf, p.Address...)
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], p.Port)
		buf = append(buf, port[:]...)
	}
	return buf
}

// RecordFromAddr converts a UDP address into a HELLO_REPLY record.
func RecordFromAddr(addr *net.UDPAddr) PeerRecord {
	return PeerRecord{Address: addr.IP.String(), Port: uint16(addr.Port)}
}
