package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// DefaultInboxSize is the per-attachment buffer of a Switch
const DefaultInboxSize = 256

// Switch delivers encoded headers between attached addresses in-process
type Switch struct {
	mu        sync.RWMutex
	inbox     map[protocol.Address]chan []byte
	inboxSize int
}

// NewSwitch creates a switch whose attachments buffer inboxSize messages
func NewSwitch(inboxSize int) *Switch {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	return &Switch{
		inbox:     make(map[protocol.Address]chan []byte),
		inboxSize: inboxSize,
	}
}

// MemTransport is one address attached to a Switch
type MemTransport struct {
	sw   *Switch
	addr protocol.Address
	in   chan []byte

	closeOnce sync.Once
}

// Attach registers addr on the switch
func (s *Switch) Attach(addr protocol.Address) (*MemTransport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.inbox[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}

	ch := make(chan []byte, s.inboxSize)
	s.inbox[addr] = ch

	return &MemTransport{sw: s, addr: addr, in: ch}, nil
}

// Attached reports whether addr currently has an attachment
func (s *Switch) Attached(addr protocol.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbox[addr]
	return ok
}

// Address returns the attached address
func (m *MemTransport) Address() protocol.Address { return m.addr }

// Inbound implements Transport
func (m *MemTransport) Inbound() <-chan []byte { return m.in }

// Transmit delivers encoded to the inbox attached at to. It never blocks: a
// full inbox is reported as ErrInboxFull.
func (m *MemTransport) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.sw.mu.RLock()
	defer m.sw.mu.RUnlock()

	if ch, ok := m.sw.inbox[m.addr]; !ok || ch != m.in {
		return ErrClosed
	}

	dst, ok := m.sw.inbox[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, to)
	}

	// Copy so the sender may reuse its buffer
	frame := append([]byte(nil), encoded...)

	select {
	case dst <- frame:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInboxFull, to)
	}
}

// Close detaches from the switch and closes the inbound channel
func (m *MemTransport) Close() error {
	m.closeOnce.Do(func() {
		m.sw.mu.Lock()
		if ch, ok := m.sw.inbox[m.addr]; ok && ch == m.in {
			delete(m.sw.inbox, m.addr)
		}
		close(m.in)
		m.sw.mu.Unlock()
	})
	return nil
}
