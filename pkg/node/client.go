package node

import (
	"context"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// Client originates exchanges. Matching replies to requests is up to the
// OnMessage callback.
type Client struct {
	ep *endpoint.Endpoint

	// OnMessage is invoked for every message addressed to this client
	OnMessage func(h *protocol.Header)
}

// NewClient creates a client over ep
func NewClient(ep *endpoint.Endpoint, onMessage func(h *protocol.Header)) *Client {
	return &Client{ep: ep, OnMessage: onMessage}
}

// Role implements Link
func (c *Client) Role() Role { return RoleClient }

// Address implements Link
func (c *Client) Address() protocol.Address { return c.ep.Address() }

// MaxMessageSize returns the endpoint's message limit
func (c *Client) MaxMessageSize() int { return c.ep.MaxMessageSize() }

// Send implements Link
func (c *Client) Send(ctx context.Context, to protocol.Address, message []byte) (*endpoint.SendReceipt, error) {
	return c.ep.Send(ctx, to, message)
}

// Receive implements Link
func (c *Client) Receive(ctx context.Context, raw []byte) (*protocol.Header, error) {
	h, err := c.ep.Receive(raw)
	if err != nil {
		return nil, err
	}

	if c.OnMessage != nil {
		c.OnMessage(h)
	}
	return h, nil
}
