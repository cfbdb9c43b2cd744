package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrHandshakeFailed = errors.New("handshake failed")
)

// RelayConfig configures a RelayTransport
type RelayConfig struct {
	RelayAddress      string
	DialTimeout       time.Duration
	KeepaliveInterval time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	DedupCacheSize    int
	InboxSize         int
	MaxFramePayload   int

	// OnNack is invoked when the relay rejects a frame
	OnNack func(id protocol.MessageID, reason string)
}

// DefaultRelayConfig returns sensible client defaults
func DefaultRelayConfig(relayAddress string) RelayConfig {
	return RelayConfig{
		RelayAddress:      relayAddress,
		DialTimeout:       10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		DedupCacheSize:    1024,
		InboxSize:         DefaultInboxSize,
		MaxFramePayload:   protocol.MaxFramePayload,
	}
}

// RelayTransport carries encoded headers through a relay hub over TCP
type RelayTransport struct {
	self protocol.Address
	cfg  RelayConfig

	mu        sync.Mutex // guards conn
	writeMu   sync.Mutex // serializes frame writes
	conn      net.Conn
	connected atomic.Bool

	seen       *lru.Cache
	duplicates atomic.Uint64
	drops      atomic.Uint64

	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// DialRelay connects to the relay hub, performs the handshake and starts
// the receive and keepalive loops
func DialRelay(ctx context.Context, self protocol.Address, cfg RelayConfig) (*RelayTransport, error) {
	if !self.Valid() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrInvalidAddress, self)
	}

	defaults := DefaultRelayConfig(cfg.RelayAddress)
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaults.KeepaliveInterval
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = defaults.DedupCacheSize
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.MaxFramePayload <= 0 {
		cfg.MaxFramePayload = defaults.MaxFramePayload
	}

	seen, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	r := &RelayTransport{
		self: self,
		cfg:  cfg,
		seen: seen,
		in:   make(chan []byte, cfg.InboxSize),
		done: make(chan struct{}),
	}

	conn, err := r.dial(ctx)
	if err != nil {
		return nil, err
	}
	r.setConn(conn)
	log.Printf("Connected to relay %s as %s", cfg.RelayAddress, self)

	r.wg.Add(2)
	go r.receiveLoopWithReconnect()
	go r.keepaliveLoop()

	return r, nil
}

// Address returns the address this transport registered with the relay
func (r *RelayTransport) Address() protocol.Address { return r.self }

// RelayAddress returns the relay network address
func (r *RelayTransport) RelayAddress() string { return r.cfg.RelayAddress }

// IsConnected returns connection status
func (r *RelayTransport) IsConnected() bool { return r.connected.Load() }

// DuplicatesDropped returns how many repeated Deliver frames were ignored
func (r *RelayTransport) DuplicatesDropped() uint64 { return r.duplicates.Load() }

// ConnectionDrops returns how many established relay connections were lost
func (r *RelayTransport) ConnectionDrops() uint64 { return r.drops.Load() }

// Inbound implements Transport
func (r *RelayTransport) Inbound() <-chan []byte { return r.in }

// Transmit wraps encoded in a Deliver frame and writes it to the relay.
// The relay routes by the header's recipient, so to is informational.
func (r *RelayTransport) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.writeFrame(protocol.NewFrame(protocol.FrameDeliver, encoded))
}

// SendPing sends a ping to the relay
func (r *RelayTransport) SendPing() error {
	return r.writeFrame(protocol.NewFrame(protocol.FramePing, nil))
}

// Close disconnects from the relay and stops all loops
func (r *RelayTransport) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.connected.Store(false)

		r.mu.Lock()
		if r.conn != nil {
			err = r.conn.Close()
		}
		r.mu.Unlock()

		r.wg.Wait()
		close(r.in)
	})
	return err
}

func (r *RelayTransport) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *RelayTransport) currentConn() net.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

func (r *RelayTransport) setConn(conn net.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.connected.Store(true)
}

func (r *RelayTransport) writeFrame(f *protocol.Frame) error {
	if !r.connected.Load() {
		return ErrNotConnected
	}

	conn := r.currentConn()
	if conn == nil {
		return ErrNotConnected
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return protocol.WriteFrame(conn, f)
}

// dial opens a connection and performs the handshake
func (r *RelayTransport) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.RelayAddress)
	if err != nil {
		return nil, err
	}

	if err := r.performHandshake(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}

// performHandshake registers our address with the relay
func (r *RelayTransport) performHandshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(r.cfg.DialTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := protocol.WriteFrame(conn, protocol.NewFrame(protocol.FrameHandshake, r.self.Encode())); err != nil {
		return err
	}

	ack, err := protocol.ReadFrame(conn, r.cfg.MaxFramePayload)
	if err != nil {
		return err
	}

	switch ack.Header.Type {
	case protocol.FrameHandshakeAck:
		return nil
	case protocol.FrameNack:
		return fmt.Errorf("%w: %s", ErrHandshakeFailed, string(ack.Payload))
	default:
		return fmt.Errorf("%w: unexpected %s frame", ErrHandshakeFailed, protocol.FrameTypeName(ack.Header.Type))
	}
}

// receiveLoopWithReconnect wraps receiveLoop with automatic reconnection
func (r *RelayTransport) receiveLoopWithReconnect() {
	defer r.wg.Done()

	backoff := r.cfg.InitialBackoff

	for {
		// Only read while a handshaked connection is up; after a failed
		// reconnect the old conn is already closed.
		if r.connected.Load() {
			r.receiveLoop(r.currentConn())

			if r.closed() {
				return
			}
			r.connected.Store(false)
			r.drops.Add(1)

			log.Printf("Connection to relay %s lost, reconnecting in %v...", r.cfg.RelayAddress, backoff)
		}

		select {
		case <-r.done:
			return
		case <-time.After(backoff):
		}

		if err := r.reconnect(); err != nil {
			log.Printf("Reconnection to relay %s failed: %v", r.cfg.RelayAddress, err)
			backoff *= 2
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
			continue
		}

		log.Printf("Reconnected to relay %s", r.cfg.RelayAddress)
		backoff = r.cfg.InitialBackoff
	}
}

// reconnect replaces the dropped connection
func (r *RelayTransport) reconnect() error {
	if old := r.currentConn(); old != nil {
		old.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	defer cancel()

	conn, err := r.dial(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed() {
		r.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	r.conn = conn
	r.mu.Unlock()
	r.connected.Store(true)

	return nil
}

// receiveLoop reads frames until the connection fails
func (r *RelayTransport) receiveLoop(conn net.Conn) {
	if conn == nil {
		return
	}

	for {
		frame, err := protocol.ReadFrame(conn, r.cfg.MaxFramePayload)
		if err != nil {
			if err != io.EOF && !r.closed() {
				log.Printf("Read frame error: %v", err)
			}
			return
		}

		switch frame.Header.Type {
		case protocol.FrameDeliver:
			if !r.handleDeliver(frame) {
				return
			}

		case protocol.FramePing:
			pong := protocol.NewFrame(protocol.FramePong, nil)
			pong.Header.MessageID = frame.Header.MessageID
			if err := r.writeFrame(pong); err != nil {
				log.Printf("Write pong error: %v", err)
			}

		case protocol.FramePong, protocol.FrameAck:

		case protocol.FrameNack:
			reason := string(frame.Payload)
			log.Printf("Relay rejected frame %s: %s", frame.Header.MessageID, reason)
			if r.cfg.OnNack != nil {
				r.cfg.OnNack(frame.Header.MessageID, reason)
			}

		default:
			log.Printf("Unknown frame type: 0x%04x", frame.Header.Type)
		}
	}
}

// handleDeliver hands a payload to the inbound channel unless it was seen
// before. It returns false once the transport is closing.
func (r *RelayTransport) handleDeliver(frame *protocol.Frame) bool {
	if ok, _ := r.seen.ContainsOrAdd(frame.Header.MessageID, struct{}{}); ok {
		r.duplicates.Add(1)
		return true
	}

	select {
	case r.in <- frame.Payload:
		return true
	case <-r.done:
		return false
	}
}

// keepaliveLoop sends periodic pings to keep the connection alive
func (r *RelayTransport) keepaliveLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if !r.connected.Load() {
				continue
			}
			if err := r.SendPing(); err != nil {
				log.Printf("Keepalive ping failed: %v", err)
			}
		}
	}
}
