package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedHeader = errors.New("malformed header")

// Header is the from/to/payload envelope of one message
type Header struct {
	From    Address
	To      Address
	Message []byte
}

// Validate checks the header invariants that do not depend on configuration
func (h *Header) Validate() error {
	if !h.From.Valid() {
		return fmt.Errorf("%w: from %s", ErrInvalidAddress, h.From)
	}
	if !h.To.Valid() {
		return fmt.Errorf("%w: to %s", ErrInvalidAddress, h.To)
	}
	if h.From == h.To {
		return fmt.Errorf("%w: self-addressed (%s)", ErrInvalidAddress, h.From)
	}
	return nil
}

// EncodedSize returns the number of bytes EncodeHeader produces
func (h *Header) EncodedSize() int {
	return HeaderFixedSize + len(h.Message)
}

// EncodeHeader encodes a header to bytes
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, h.EncodedSize())
	offset := 0

	h.From.put(buf[offset:])
	offset += AddressSize

	h.To.put(buf[offset:])
	offset += AddressSize

	binary.BigEndian.PutUint32(buf[offset:], uint32(len(h.Message)))
	offset += 4

	copy(buf[offset:], h.Message)

	return buf
}

// DecodeHeader decodes a header from bytes. The buffer must hold exactly one
// header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderFixedSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedHeader, len(buf), HeaderFixedSize)
	}

	from, err := getAddress(buf[0:AddressSize])
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrMalformedHeader, err)
	}

	to, err := getAddress(buf[AddressSize : 2*AddressSize])
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrMalformedHeader, err)
	}

	length := binary.BigEndian.Uint32(buf[2*AddressSize : HeaderFixedSize])
	remaining := uint64(len(buf) - HeaderFixedSize)
	if uint64(length) > remaining {
		return nil, fmt.Errorf("%w: message length %d exceeds remaining %d bytes", ErrMalformedHeader, length, remaining)
	}
	if uint64(length) < remaining {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedHeader, remaining-uint64(length))
	}

	msg := make([]byte, length)
	copy(msg, buf[HeaderFixedSize:])

	return &Header{From: from, To: to, Message: msg}, nil
}

// PeekRecipient returns the To address of an encoded header without
// decoding the message
func PeekRecipient(buf []byte) (Address, error) {
	if len(buf) < HeaderFixedSize {
		return Address{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedHeader, len(buf), HeaderFixedSize)
	}
	to, err := getAddress(buf[AddressSize : 2*AddressSize])
	if err != nil {
		return Address{}, fmt.Errorf("%w: to: %v", ErrMalformedHeader, err)
	}
	return to, nil
}
