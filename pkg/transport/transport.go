// Package transport provides proto-z transports that move encoded headers
// between endpoints: an in-process switch, a lossy link with forward error
// correction, and a libp2p transport.
//
// Every transport satisfies endpoint.Transport for the send side and exposes
// received headers on an Inbound channel for node.Run.
package transport

import (
	"errors"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
)

var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrInboxFull          = errors.New("destination inbox full")
	ErrClosed             = errors.New("transport closed")
	ErrAddressInUse       = errors.New("address already in use")
)

// Transport is a full-duplex attachment of one endpoint
type Transport interface {
	endpoint.Transport

	// Inbound yields encoded headers received for this attachment. It is
	// closed when the transport is closed.
	Inbound() <-chan []byte

	Close() error
}
