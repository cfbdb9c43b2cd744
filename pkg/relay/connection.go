package relay

import (
	"errors"
	"io"
	"log"
	"net"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("Accept error: %v", err)
			}
			return
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection registers the peer and serves its frames
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	log.Printf("New connection from %s", conn.RemoteAddr())

	peer, err := s.handleHandshake(conn)
	if err != nil {
		log.Printf("Handshake from %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer s.unregister(peer)

	// Loop to handle multiple frames on same connection
	for {
		frame, err := protocol.ReadFrame(conn, s.cfg.MaxFramePayload)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("Read frame error from %s: %v", peer.Address, err)
			}
			return
		}
		peer.touch()

		switch frame.Header.Type {
		case protocol.FrameDeliver:
			s.handleDeliver(peer, frame)

		case protocol.FramePing:
			s.handlePing(peer, frame)

		case protocol.FramePong, protocol.FrameAck:

		case protocol.FrameHandshake:
			s.sendNack(peer, frame.Header.MessageID, "already registered")

		default:
			log.Printf("Unknown frame type from %s: 0x%04x", peer.Address, frame.Header.Type)
		}
	}
}

// handleHandshake reads the first frame, which must register a valid address
func (s *Server) handleHandshake(conn net.Conn) (*Peer, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	frame, err := protocol.ReadFrame(conn, s.cfg.MaxFramePayload)
	if err != nil {
		return nil, err
	}

	reject := func(reason string, cause error) (*Peer, error) {
		s.framesRejected.Add(1)
		nack := protocol.NewFrame(protocol.FrameNack, []byte(reason))
		nack.Header.MessageID = frame.Header.MessageID
		protocol.WriteFrame(conn, nack)
		return nil, cause
	}

	if frame.Header.Type != protocol.FrameHandshake {
		return reject("handshake required", ErrHandshakeNeeded)
	}

	addr, err := protocol.DecodeAddress(frame.Payload)
	if err != nil {
		return reject("invalid address", err)
	}

	peer := &Peer{
		Conn:        conn,
		Address:     addr,
		ConnectedAt: time.Now(),
	}
	peer.touch()

	s.register(peer)

	ack := protocol.NewFrame(protocol.FrameHandshakeAck, nil)
	ack.Header.MessageID = frame.Header.MessageID
	if err := peer.write(ack); err != nil {
		s.unregister(peer)
		return nil, err
	}

	log.Printf("Peer registered: %s (%s)", addr, conn.RemoteAddr())

	// Deliver queued frames for this endpoint (if any)
	if s.queue != nil {
		s.wg.Add(1)
		go s.deliverQueued(peer)
	}

	return peer, nil
}
