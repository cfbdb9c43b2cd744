// Package relay implements the proto-z relay hub. Endpoints register their
// Address with a handshake and hand Deliver frames to the hub, which routes
// each frame by the recipient in its encoded header. Frames for offline
// recipients are held in an optional offline queue and flushed when the
// recipient registers.
package relay

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
	"github.com/ZentaChain/protoz-node/pkg/storage"
)

var (
	ErrNotStarted      = errors.New("relay not started")
	ErrAlreadyStarted  = errors.New("relay already started")
	ErrPeerOffline     = errors.New("peer not connected")
	ErrHandshakeNeeded = errors.New("handshake required")
	ErrSenderMismatch  = errors.New("sender does not match handshake")
)

// Config configures a relay hub
type Config struct {
	ListenAddr       string
	HandshakeTimeout time.Duration
	MaxFramePayload  int
	FlushDelay       time.Duration // pause between flushed frames
}

// DefaultConfig returns a default relay configuration
func DefaultConfig() Config {
	return Config{
		ListenAddr:       ":9001",
		HandshakeTimeout: 10 * time.Second,
		MaxFramePayload:  protocol.MaxFramePayload,
		FlushDelay:       10 * time.Millisecond,
	}
}

// Server is a relay hub
type Server struct {
	cfg Config

	listener net.Listener
	peers    map[protocol.Address]*Peer
	mu       sync.RWMutex
	wg       sync.WaitGroup

	// Offline queue for recipients that are not connected
	queue *storage.OfflineQueue

	startTime time.Time

	// Statistics
	framesRelayed  atomic.Uint64
	framesQueued   atomic.Uint64
	framesRejected atomic.Uint64

	// Callbacks
	OnFrameRelayed func(from, to protocol.Address)
}

// Peer represents a registered endpoint connection
type Peer struct {
	Conn        net.Conn
	Address     protocol.Address
	ConnectedAt time.Time

	writeMu  sync.Mutex
	lastSeen atomic.Int64
}

// Stats is a snapshot of relay counters
type Stats struct {
	FramesRelayed  uint64 `json:"frames_relayed"`
	FramesQueued   uint64 `json:"frames_queued"`
	FramesRejected uint64 `json:"frames_rejected"`
	ConnectedPeers int    `json:"connected_peers"`
	PendingFrames  int    `json:"pending_frames"`
	Uptime         string `json:"uptime"`
}

// NewServer creates a new relay hub
func NewServer(cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.MaxFramePayload <= 0 {
		cfg.MaxFramePayload = defaults.MaxFramePayload
	}
	if cfg.FlushDelay < 0 {
		cfg.FlushDelay = 0
	}

	return &Server{
		cfg:       cfg,
		peers:     make(map[protocol.Address]*Peer),
		startTime: time.Now(),
	}
}

// AttachOfflineQueue attaches a queue for offline recipients
func (s *Server) AttachOfflineQueue(queue *storage.OfflineQueue) {
	s.queue = queue
	log.Println("Offline queue attached to relay")
}

// OfflineQueue returns the attached queue, if any
func (s *Server) OfflineQueue() *storage.OfflineQueue {
	return s.queue
}

// Start starts listening and accepting connections
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}

	s.listener = listener
	log.Printf("Relay listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop(listener)

	return nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every peer connection
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.listener == nil {
		s.mu.Unlock()
		return ErrNotStarted
	}
	err := s.listener.Close()
	for _, peer := range s.peers {
		peer.Conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// IsConnected reports whether addr has a registered connection
func (s *Server) IsConnected(addr protocol.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[addr]
	return ok
}

// Peers returns the registered addresses
func (s *Server) Peers() []protocol.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()

	addrs := make([]protocol.Address, 0, len(s.peers))
	for addr := range s.peers {
		addrs = append(addrs, addr)
	}
	return addrs
}

// GetStats returns relay statistics
func (s *Server) GetStats() Stats {
	s.mu.RLock()
	connected := len(s.peers)
	s.mu.RUnlock()

	stats := Stats{
		FramesRelayed:  s.framesRelayed.Load(),
		FramesQueued:   s.framesQueued.Load(),
		FramesRejected: s.framesRejected.Load(),
		ConnectedPeers: connected,
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.queue != nil {
		if n, err := s.queue.TotalSize(); err == nil {
			stats.PendingFrames = n
		}
	}

	return stats
}

func (s *Server) register(peer *Peer) {
	s.mu.Lock()
	old, exists := s.peers[peer.Address]
	s.peers[peer.Address] = peer
	s.mu.Unlock()

	if exists {
		log.Printf("Peer %s re-registered, closing previous connection", peer.Address)
		old.Conn.Close()
	}
}

// unregister removes peer unless a newer connection already replaced it
func (s *Server) unregister(peer *Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.peers[peer.Address]; ok && current == peer {
		delete(s.peers, peer.Address)
		log.Printf("Peer disconnected and removed: %s", peer.Address)
	}
}

func (s *Server) lookup(addr protocol.Address) (*Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[addr]
	return peer, ok
}

// write sends a frame to the peer, serialized with other writers
func (p *Peer) write(f *protocol.Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return protocol.WriteFrame(p.Conn, f)
}

// LastSeen returns when the peer last sent a frame
func (p *Peer) LastSeen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

func (p *Peer) touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}
