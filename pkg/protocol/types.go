package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// Protocol constants
const (
	// Magic number for proto-z frames ('PROZ')
	ProtocolMagic = 0x50524F5A

	// Protocol version
	ProtocolVersion = 0x0100 // v1.0

	// Frame header size
	FrameHeaderSize = 28

	// Encoded address size: location byte + three uint64 fields
	AddressSize = 1 + 8 + 8 + 8

	// Fixed part of an encoded header: from + to + message length
	HeaderFixedSize = AddressSize + AddressSize + 4

	// DefaultMaxMessageSize bounds a header's message unless an endpoint is
	// configured otherwise.
	DefaultMaxMessageSize = 64 * 1024

	// MaxFramePayload bounds any frame read from a stream.
	MaxFramePayload = 1 << 20
)

// Frame types
const (
	// Connection management (0x00xx)
	FrameHandshake    uint16 = 0x0001
	FrameHandshakeAck uint16 = 0x0002
	FramePing         uint16 = 0x0003
	FramePong         uint16 = 0x0004

	// Delivery (0x01xx)
	FrameDeliver uint16 = 0x0100
	FrameAck     uint16 = 0x0101
	FrameNack    uint16 = 0x0102
)

// MessageID represents a unique frame identifier (16 bytes)
type MessageID [16]byte

// String returns the hex form of the ID
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseMessageID parses the hex form produced by String
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid message ID %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid message ID length: %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// GenerateMessageID generates a random message ID
func GenerateMessageID() MessageID {
	var id MessageID
	// First 8 bytes are the timestamp so IDs sort roughly by creation
	timestamp := time.Now().UnixNano()
	binary.BigEndian.PutUint64(id[0:8], uint64(timestamp))

	if _, err := rand.Read(id[8:]); err != nil {
		binary.BigEndian.PutUint64(id[8:], uint64(timestamp^0xDEADBEEF))
	}

	return id
}

// FrameTypeName returns a readable name for a frame type
func FrameTypeName(t uint16) string {
	switch t {
	case FrameHandshake:
		return "handshake"
	case FrameHandshakeAck:
		return "handshake-ack"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameDeliver:
		return "deliver"
	case FrameAck:
		return "ack"
	case FrameNack:
		return "nack"
	default:
		return "unknown"
	}
}
