package node

import (
	"context"
	"fmt"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// Handler produces an application response to a received header. Returning
// ok=false sends nothing back.
type Handler func(ctx context.Context, h *protocol.Header) (response []byte, ok bool)

// Server responds to exchanges other endpoints originate
type Server struct {
	ep *endpoint.Endpoint

	// Handler is invoked for every message addressed to this server
	Handler Handler

	// OnResponse is invoked after a response was handed to the transport
	OnResponse func(receipt *endpoint.SendReceipt)
}

// NewServer creates a server over ep
func NewServer(ep *endpoint.Endpoint, handler Handler) *Server {
	return &Server{ep: ep, Handler: handler}
}

// Role implements Link
func (s *Server) Role() Role { return RoleServer }

// Address implements Link
func (s *Server) Address() protocol.Address { return s.ep.Address() }

// MaxMessageSize returns the endpoint's message limit
func (s *Server) MaxMessageSize() int { return s.ep.MaxMessageSize() }

// Send implements Link
func (s *Server) Send(ctx context.Context, to protocol.Address, message []byte) (*endpoint.SendReceipt, error) {
	return s.ep.Send(ctx, to, message)
}

// Receive decodes raw, runs the handler and sends its response to the
// header's sender. The header is returned even when the response fails.
func (s *Server) Receive(ctx context.Context, raw []byte) (*protocol.Header, error) {
	h, err := s.ep.Receive(raw)
	if err != nil {
		return nil, err
	}

	if s.Handler == nil {
		return h, nil
	}

	response, ok := s.Handler(ctx, h)
	if !ok {
		return h, nil
	}

	receipt, err := s.ep.Send(ctx, h.From, response)
	if err != nil {
		return h, fmt.Errorf("response to %s: %w", h.From, err)
	}

	if s.OnResponse != nil {
		s.OnResponse(receipt)
	}
	return h, nil
}
