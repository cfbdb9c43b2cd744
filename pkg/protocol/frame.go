package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidMagic   = errors.New("invalid protocol magic")
	ErrInvalidVersion = errors.New("unsupported protocol version")
	ErrInvalidFrame   = errors.New("invalid frame header")
	ErrFrameTooLarge  = errors.New("frame too large")
)

// FrameHeader precedes every frame on a stream
type FrameHeader struct {
	Magic     uint32    // Magic number (0x50524F5A)
	Version   uint16    // Protocol version
	Type      uint16    // Frame type
	Length    uint32    // Payload length
	MessageID MessageID // Unique frame ID
}

// Frame is a frame header plus its payload
type Frame struct {
	Header  *FrameHeader
	Payload []byte
}

// NewFrame creates a frame with a fresh message ID
func NewFrame(frameType uint16, payload []byte) *Frame {
	return &Frame{
		Header: &FrameHeader{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Type:      frameType,
			Length:    uint32(len(payload)),
			MessageID: GenerateMessageID(),
		},
		Payload: payload,
	}
}

// Encode encodes the frame header to bytes
func (h *FrameHeader) Encode() []byte {
	buf := make([]byte, FrameHeaderSize)

	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Type)
	binary.BigEndian.PutUint32(buf[8:12], h.Length)
	copy(buf[12:28], h.MessageID[:])

	return buf
}

// Decode decodes the frame header from bytes
func (h *FrameHeader) Decode(buf []byte) error {
	if len(buf) < FrameHeaderSize {
		return ErrInvalidFrame
	}

	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	h.Version = binary.BigEndian.Uint16(buf[4:6])
	h.Type = binary.BigEndian.Uint16(buf[6:8])
	h.Length = binary.BigEndian.Uint32(buf[8:12])
	copy(h.MessageID[:], buf[12:28])

	return nil
}

// Validate validates the frame header
func (h *FrameHeader) Validate() error {
	if h.Magic != ProtocolMagic {
		return ErrInvalidMagic
	}

	if h.Version != ProtocolVersion {
		return ErrInvalidVersion
	}

	return nil
}

// ReadFrame reads one frame from r. Payloads longer than maxPayload are
// rejected before they are read.
func ReadFrame(r io.Reader, maxPayload int) (*Frame, error) {
	buf := make([]byte, FrameHeaderSize)

	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	header := &FrameHeader{}
	if err := header.Decode(buf); err != nil {
		return nil, err
	}

	if err := header.Validate(); err != nil {
		return nil, err
	}

	if maxPayload > 0 && uint64(header.Length) > uint64(maxPayload) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, header.Length, maxPayload)
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return &Frame{Header: header, Payload: payload}, nil
}

// WriteFrame writes a frame to w as a single write
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxFramePayload {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f.Payload), MaxFramePayload)
	}
	f.Header.Length = uint32(len(f.Payload))

	buf := make([]byte, 0, FrameHeaderSize+len(f.Payload))
	buf = append(buf, f.Header.Encode()...)
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}
