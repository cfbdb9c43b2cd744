// Package endpoint implements the send/receive core shared by both proto-z
// roles.
package endpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var (
	ErrInvalidAddress     = errors.New("invalid endpoint address")
	ErrInvalidDestination = errors.New("invalid destination")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrMalformed          = errors.New("malformed message")
	ErrWrongRecipient     = errors.New("wrong recipient")
	ErrTransport          = errors.New("transport error")
)

// Transport moves encoded headers to their destination
type Transport interface {
	Transmit(ctx context.Context, encoded []byte, to protocol.Address) error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, encoded []byte, to protocol.Address) error

// Transmit calls f
func (f TransportFunc) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	return f(ctx, encoded, to)
}

// TransportError wraps a failure reported by the transport. The ledger
// already counted the attempt when this is returned.
type TransportError struct {
	To             protocol.Address
	SequenceNumber uint64
	Err            error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error sending #%d to %s: %v", e.SequenceNumber, e.To, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// SendReceipt is returned for every send that reached the transport and was
// accepted by it
type SendReceipt struct {
	To             protocol.Address
	SequenceNumber uint64
}

// Endpoint is one addressable participant. It carries no state between calls
// besides its fixed identity and collaborators.
type Endpoint struct {
	addr           protocol.Address
	ledger         *ledger.Ledger
	transport      Transport
	maxMessageSize int
}

// Option configures an Endpoint
type Option func(*Endpoint)

// WithMaxMessageSize overrides protocol.DefaultMaxMessageSize
func WithMaxMessageSize(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.maxMessageSize = n
		}
	}
}

// New creates an endpoint. It fails if addr is not a valid address or a
// collaborator is missing.
func New(addr protocol.Address, l *ledger.Ledger, t Transport, opts ...Option) (*Endpoint, error) {
	if !addr.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, addr)
	}
	if l == nil {
		return nil, fmt.Errorf("%w: nil ledger", ErrInvalidAddress)
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidAddress)
	}

	e := &Endpoint{
		addr:           addr,
		ledger:         l,
		transport:      t,
		maxMessageSize: protocol.DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustNew is like New but panics on error
func MustNew(addr protocol.Address, l *ledger.Ledger, t Transport, opts ...Option) *Endpoint {
	e, err := New(addr, l, t, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Address returns the endpoint's own address
func (e *Endpoint) Address() protocol.Address {
	return e.addr
}

// MaxMessageSize returns the configured message size limit
func (e *Endpoint) MaxMessageSize() int {
	return e.maxMessageSize
}

// Send validates the destination and payload, records the attempt in the
// ledger and hands the encoded header to the transport.
func (e *Endpoint) Send(ctx context.Context, to protocol.Address, message []byte) (*SendReceipt, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDestination, to)
	}
	if to == e.addr {
		return nil, fmt.Errorf("%w: %s is this endpoint", ErrInvalidDestination, to)
	}
	if len(message) > e.maxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(message), e.maxMessageSize)
	}

	header := &protocol.Header{
		From:    e.addr,
		To:      to,
		Message: message,
	}
	encoded := protocol.EncodeHeader(header)

	// Counted once, before hand-off; never rolled back
	seq := e.ledger.RecordSend(to)

	if err := e.transport.Transmit(ctx, encoded, to); err != nil {
		return nil, &TransportError{To: to, SequenceNumber: seq, Err: err}
	}

	return &SendReceipt{To: to, SequenceNumber: seq}, nil
}

// Receive decodes raw bytes and checks they are addressed to this endpoint
func (e *Endpoint) Receive(raw []byte) (*protocol.Header, error) {
	header, err := protocol.DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := header.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if header.To != e.addr {
		return nil, fmt.Errorf("%w: addressed to %s, this endpoint is %s", ErrWrongRecipient, header.To, e.addr)
	}

	return header, nil
}
