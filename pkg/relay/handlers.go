package relay

import (
	"fmt"
	"log"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// handleDeliver routes a Deliver frame by the recipient in its header
func (s *Server) handleDeliver(from *Peer, frame *protocol.Frame) {
	h, err := protocol.DecodeHeader(frame.Payload)
	if err != nil {
		s.framesRejected.Add(1)
		log.Printf("Malformed header from %s: %v", from.Address, err)
		s.sendNack(from, frame.Header.MessageID, err.Error())
		return
	}

	if h.From != from.Address {
		s.framesRejected.Add(1)
		log.Printf("Frame %s from %s claims sender %s", frame.Header.MessageID, from.Address, h.From)
		s.sendNack(from, frame.Header.MessageID, fmt.Sprintf("%v: %s", ErrSenderMismatch, h.From))
		return
	}

	if err := s.route(h.To, frame.Header.MessageID, frame.Payload); err != nil {
		s.framesRejected.Add(1)
		s.sendNack(from, frame.Header.MessageID, err.Error())
		return
	}

	if s.OnFrameRelayed != nil {
		s.OnFrameRelayed(h.From, h.To)
	}

	s.sendAck(from, frame.Header.MessageID)
}

// handlePing answers a ping with a pong carrying the same ID
func (s *Server) handlePing(peer *Peer, frame *protocol.Frame) {
	pong := protocol.NewFrame(protocol.FramePong, nil)
	pong.Header.MessageID = frame.Header.MessageID

	if err := peer.write(pong); err != nil {
		log.Printf("Write pong error: %v", err)
	}
}

// sendAck acknowledges a routed or queued frame
func (s *Server) sendAck(peer *Peer, id protocol.MessageID) {
	ack := protocol.NewFrame(protocol.FrameAck, nil)
	ack.Header.MessageID = id

	if err := peer.write(ack); err != nil {
		log.Printf("Write ack error: %v", err)
	}
}

// sendNack rejects a frame with a readable reason
func (s *Server) sendNack(peer *Peer, id protocol.MessageID, reason string) {
	nack := protocol.NewFrame(protocol.FrameNack, []byte(reason))
	nack.Header.MessageID = id

	if err := peer.write(nack); err != nil {
		log.Printf("Write nack error: %v", err)
	}
}
