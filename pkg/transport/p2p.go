package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	p2pproto "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

const (
	// P2PProtocolID is the stream protocol carrying Deliver frames
	P2PProtocolID = p2pproto.ID("/protoz/1.0.0")

	// DHTProtocolPrefix keeps proto-z routing records off the public network
	DHTProtocolPrefix = p2pproto.ID("/protoz")
)

var ErrNoRoute = errors.New("no route to address")

// P2PConfig configures a P2PTransport
type P2PConfig struct {
	ListenAddrs     []string
	BootstrapPeers  []string
	PrivateKey      crypto.PrivKey // Optional: provide your own key
	EnableNAT       bool
	InboxSize       int
	MaxFramePayload int
}

// DefaultP2PConfig listens on an ephemeral loopback port
func DefaultP2PConfig() P2PConfig {
	return P2PConfig{
		ListenAddrs:     []string{"/ip4/127.0.0.1/tcp/0"},
		InboxSize:       DefaultInboxSize,
		MaxFramePayload: protocol.MaxFramePayload,
	}
}

// P2PTransport carries encoded headers over libp2p streams. Destination
// addresses resolve through a local directory first and then through DHT
// provider records published by Announce.
type P2PTransport struct {
	self protocol.Address
	cfg  P2PConfig
	host host.Host
	dht  *dht.IpfsDHT

	ctx    context.Context
	cancel context.CancelFunc

	dirMu     sync.RWMutex
	directory map[protocol.Address]peer.AddrInfo

	inMu   sync.RWMutex
	in     chan []byte
	closed bool
}

// AddressCID returns the content ID under which an address is announced
func AddressCID(addr protocol.Address) (cid.Cid, error) {
	digest := addr.Digest()
	mh, err := multihash.Sum(digest[:], multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("failed to hash address: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// NewP2PTransport creates a libp2p host and DHT for self
func NewP2PTransport(ctx context.Context, self protocol.Address, cfg P2PConfig) (*P2PTransport, error) {
	if !self.Valid() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrInvalidAddress, self)
	}

	defaults := DefaultP2PConfig()
	if len(cfg.ListenAddrs) == 0 {
		cfg.ListenAddrs = defaults.ListenAddrs
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.MaxFramePayload <= 0 {
		cfg.MaxFramePayload = defaults.MaxFramePayload
	}

	// Generate or use provided private key
	priv := cfg.PrivateKey
	if priv == nil {
		var err error
		priv, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
	}

	opts := []libp2p.Option{
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	}
	if cfg.EnableNAT {
		opts = append(opts, libp2p.NATPortMap(), libp2p.EnableNATService())
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	kad, err := dht.New(ctx, h,
		dht.Mode(dht.ModeServer),
		dht.ProtocolPrefix(DHTProtocolPrefix),
		dht.BootstrapPeers(),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	tctx, cancel := context.WithCancel(context.Background())

	t := &P2PTransport{
		self:      self,
		cfg:       cfg,
		host:      h,
		dht:       kad,
		ctx:       tctx,
		cancel:    cancel,
		directory: make(map[protocol.Address]peer.AddrInfo),
		in:        make(chan []byte, cfg.InboxSize),
	}

	h.SetStreamHandler(P2PProtocolID, t.handleStream)

	if len(cfg.BootstrapPeers) > 0 {
		if err := t.Bootstrap(ctx, cfg.BootstrapPeers); err != nil {
			t.Close()
			return nil, fmt.Errorf("failed to bootstrap: %w", err)
		}
	}

	return t, nil
}

// Address returns the proto-z address served by this host
func (t *P2PTransport) Address() protocol.Address { return t.self }

// ID returns the libp2p peer ID
func (t *P2PTransport) ID() peer.ID { return t.host.ID() }

// Host returns the underlying libp2p host
func (t *P2PTransport) Host() host.Host { return t.host }

// AddrInfo returns the dialable identity of this host
func (t *P2PTransport) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: t.host.ID(), Addrs: t.host.Addrs()}
}

// FullAddrs returns /p2p multiaddrs usable as bootstrap peers
func (t *P2PTransport) FullAddrs() []string {
	info := t.AddrInfo()
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}

	addrs := make([]string, 0, len(maddrs))
	for _, m := range maddrs {
		addrs = append(addrs, m.String())
	}
	return addrs
}

// Inbound implements Transport
func (t *P2PTransport) Inbound() <-chan []byte { return t.in }

// Bootstrap connects to bootstrap peers and joins the DHT
func (t *P2PTransport) Bootstrap(ctx context.Context, bootstrapPeers []string) error {
	var connectedCount int
	for _, peerStr := range bootstrapPeers {
		maddr, err := multiaddr.NewMultiaddr(peerStr)
		if err != nil {
			log.Printf("Invalid bootstrap peer address %s: %v", peerStr, err)
			continue
		}

		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			log.Printf("Failed to parse peer info from %s: %v", peerStr, err)
			continue
		}

		if err := t.host.Connect(ctx, *info); err != nil {
			log.Printf("Failed to connect to bootstrap peer %s: %v", info.ID, err)
			continue
		}

		log.Printf("Connected to bootstrap peer: %s", info.ID)
		connectedCount++
	}

	if connectedCount == 0 {
		return fmt.Errorf("failed to connect to any bootstrap peers")
	}

	if err := t.dht.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap DHT: %w", err)
	}

	log.Printf("Successfully bootstrapped with %d peers", connectedCount)
	return nil
}

// AddPeer records where a proto-z address is served
func (t *P2PTransport) AddPeer(addr protocol.Address, info peer.AddrInfo) {
	t.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)

	t.dirMu.Lock()
	t.directory[addr] = info
	t.dirMu.Unlock()
}

// Announce publishes a provider record for our address
func (t *P2PTransport) Announce(ctx context.Context) error {
	key, err := AddressCID(t.self)
	if err != nil {
		return err
	}

	if err := t.dht.Provide(ctx, key, true); err != nil {
		return fmt.Errorf("failed to announce %s: %w", t.self, err)
	}

	log.Printf("Announced %s as %s", t.self, key)
	return nil
}

// Resolve finds the peer serving addr
func (t *P2PTransport) Resolve(ctx context.Context, addr protocol.Address) (peer.AddrInfo, error) {
	t.dirMu.RLock()
	info, ok := t.directory[addr]
	t.dirMu.RUnlock()
	if ok {
		return info, nil
	}

	key, err := AddressCID(addr)
	if err != nil {
		return peer.AddrInfo{}, err
	}

	providers, err := t.dht.FindProviders(ctx, key)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("%w: %s: %v", ErrNoRoute, addr, err)
	}

	for _, p := range providers {
		if p.ID == t.host.ID() {
			continue
		}
		t.AddPeer(addr, p)
		return p, nil
	}

	return peer.AddrInfo{}, fmt.Errorf("%w: %s", ErrNoRoute, addr)
}

// Transmit opens a stream to the peer serving to and writes one Deliver frame
func (t *P2PTransport) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	info, err := t.Resolve(ctx, to)
	if err != nil {
		return err
	}

	if err := t.host.Connect(ctx, info); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", info.ID, err)
	}

	stream, err := t.host.NewStream(ctx, info.ID, P2PProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	} else {
		stream.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}

	if err := protocol.WriteFrame(stream, protocol.NewFrame(protocol.FrameDeliver, encoded)); err != nil {
		stream.Reset()
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// handleStream reads Deliver frames until the remote closes the stream
func (t *P2PTransport) handleStream(stream network.Stream) {
	defer stream.Close()

	for {
		frame, err := protocol.ReadFrame(stream, t.cfg.MaxFramePayload)
		if err != nil {
			if err != io.EOF {
				log.Printf("Stream read error from %s: %v", stream.Conn().RemotePeer(), err)
				stream.Reset()
			}
			return
		}

		if frame.Header.Type != protocol.FrameDeliver {
			log.Printf("Unexpected %s frame from %s", protocol.FrameTypeName(frame.Header.Type), stream.Conn().RemotePeer())
			continue
		}

		if !t.push(frame.Payload) {
			return
		}
	}
}

func (t *P2PTransport) push(payload []byte) bool {
	t.inMu.RLock()
	defer t.inMu.RUnlock()

	if t.closed {
		return false
	}

	select {
	case t.in <- payload:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// Close shuts down the DHT and host
func (t *P2PTransport) Close() error {
	t.cancel()

	t.inMu.Lock()
	if t.closed {
		t.inMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.in)
	t.inMu.Unlock()

	if err := t.dht.Close(); err != nil {
		log.Printf("DHT close error: %v", err)
	}
	return t.host.Close()
}
