package relay

import (
	"fmt"
	"log"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// route delivers payload to the recipient's connection, or queues it when
// the recipient is offline and a queue is attached
func (s *Server) route(to protocol.Address, id protocol.MessageID, payload []byte) error {
	peer, exists := s.lookup(to)
	if exists {
		frame := protocol.NewFrame(protocol.FrameDeliver, payload)
		frame.Header.MessageID = id

		err := peer.write(frame)
		if err == nil {
			s.framesRelayed.Add(1)
			return nil
		}
		log.Printf("Write to %s failed: %v", to, err)
	}

	if s.queue == nil {
		return fmt.Errorf("%w: %s", ErrPeerOffline, to)
	}

	if err := s.queue.Enqueue(to, id, payload); err != nil {
		return fmt.Errorf("recipient offline and queue failed: %w", err)
	}
	s.framesQueued.Add(1)
	return nil
}

// deliverQueued flushes queued frames to a newly registered peer
func (s *Server) deliverQueued(peer *Peer) {
	defer s.wg.Done()

	frames, err := s.queue.Pending(peer.Address)
	if err != nil {
		log.Printf("Failed to get queued frames: %v", err)
		return
	}

	if len(frames) == 0 {
		return
	}

	log.Printf("Delivering %d queued frames to %s", len(frames), peer.Address)

	delivered := 0
	for _, qf := range frames {
		id, err := protocol.ParseMessageID(qf.MessageID)
		if err != nil {
			log.Printf("Dropping queued frame with bad ID: %v", err)
			s.queue.Delete(qf.MessageID)
			continue
		}

		frame := protocol.NewFrame(protocol.FrameDeliver, qf.Payload)
		frame.Header.MessageID = id

		if err := peer.write(frame); err != nil {
			log.Printf("Failed to deliver queued frame: %v", err)
			if err := s.queue.IncrementAttempts(qf.MessageID); err != nil {
				log.Printf("Failed to record delivery attempt: %v", err)
			}
			// The connection is gone, the rest stays queued
			break
		}

		// Delete frame from queue after successful delivery
		if err := s.queue.Delete(qf.MessageID); err != nil {
			log.Printf("Failed to delete delivered frame: %v", err)
		}

		s.framesRelayed.Add(1)
		delivered++

		if s.cfg.FlushDelay > 0 {
			time.Sleep(s.cfg.FlushDelay)
		}
	}

	log.Printf("Delivered %d/%d queued frames to %s", delivered, len(frames), peer.Address)
}
