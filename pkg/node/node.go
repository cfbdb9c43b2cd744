// Package node provides the two proto-z roles, Server and Client. Both
// delegate validation, ledger bookkeeping and transport hand-off to an
// endpoint.Endpoint and differ only in what they do with received messages.
package node

import (
	"context"
	"errors"
	"log"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// Role names a link variant
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// ParseRole parses a role name
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleServer, RoleClient:
		return Role(s), nil
	default:
		return "", errors.New("unknown role: " + s)
	}
}

// Link is the capability set both roles share
type Link interface {
	Role() Role
	Address() protocol.Address
	Send(ctx context.Context, to protocol.Address, message []byte) (*endpoint.SendReceipt, error)
	Receive(ctx context.Context, raw []byte) (*protocol.Header, error)
}

// Run feeds raw inbound messages into link until ctx is done or inbound is
// closed. Receive errors are logged and do not stop the loop.
func Run(ctx context.Context, link Link, inbound <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			if _, err := link.Receive(ctx, raw); err != nil {
				switch {
				case errors.Is(err, endpoint.ErrWrongRecipient):
					log.Printf("[%s %s] Misrouted message dropped: %v", link.Role(), link.Address(), err)
				case errors.Is(err, endpoint.ErrMalformed):
					log.Printf("[%s %s] Malformed message dropped: %v", link.Role(), link.Address(), err)
				default:
					log.Printf("[%s %s] Receive error: %v", link.Role(), link.Address(), err)
				}
			}
		}
	}
}
