// Package main runs a proto-z node: one endpoint in the server or client
// role, attached to a relay hub or a libp2p network, with an HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/ZentaChain/protoz-node/pkg/api"
	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/node"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
	"github.com/ZentaChain/protoz-node/pkg/storage"
	"github.com/ZentaChain/protoz-node/pkg/transport"
)

func main() {
	addrFlag := flag.String("addr", "", "Own address, e.g. Sirius/2/2/2 (required)")
	roleFlag := flag.String("role", "client", "Role: server or client")
	transportFlag := flag.String("transport", "relay", "Transport: relay or p2p")
	relayAddr := flag.String("relay", "localhost:9001", "Relay hub address (relay transport)")
	listen := flag.String("listen", "/ip4/0.0.0.0/tcp/4001", "libp2p listen multiaddr (p2p transport)")
	bootstrap := flag.String("bootstrap", "", "Comma-separated bootstrap multiaddrs (p2p transport)")
	peers := flag.String("peers", "", "Comma-separated Address=multiaddr pairs (p2p transport)")
	apiPort := flag.Int("api-port", 8080, "HTTP API port (0 disables the API)")
	ledgerDB := flag.String("ledger-db", "", "SQLite file for ledger checkpoints (empty disables)")
	checkpoint := flag.Duration("checkpoint", time.Minute, "Ledger checkpoint interval")
	maxMessage := flag.Int("max-message", protocol.DefaultMaxMessageSize, "Maximum message size in bytes")
	rateLimit := flag.Int("rate-limit", 100, "API rate limit (requests per minute)")

	flag.Parse()

	if *addrFlag == "" {
		log.Fatal("Error: -addr flag is required")
	}
	self, err := protocol.ParseAddress(*addrFlag)
	if err != nil {
		log.Fatalf("Invalid -addr: %v", err)
	}

	role, err := node.ParseRole(*roleFlag)
	if err != nil {
		log.Fatalf("Invalid -role: %v", err)
	}

	fmt.Println("proto-z node")
	fmt.Println("============")
	fmt.Println()

	l := ledger.New(ledger.WithObserver(func(total uint64) {
		log.Printf("Number of total packets sent: %d", total)
	}))

	var store *storage.LedgerStore
	if *ledgerDB != "" {
		store, err = storage.NewLedgerStore(*ledgerDB)
		if err != nil {
			log.Fatalf("Failed to open ledger store: %v", err)
		}
		snap, err := store.Load()
		if err != nil {
			log.Fatalf("Failed to load ledger checkpoint: %v", err)
		}
		if err := l.Restore(snap); err != nil {
			log.Fatalf("Failed to restore ledger: %v", err)
		}
		log.Printf("Ledger restored from %s (%d sends, %d destinations)", *ledgerDB, snap.Total, len(snap.Entries))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, desc, err := openTransport(ctx, self, *transportFlag, *relayAddr, *listen, *bootstrap, *peers)
	if err != nil {
		log.Fatalf("Failed to open transport: %v", err)
	}

	ep, err := endpoint.New(self, l, tr, endpoint.WithMaxMessageSize(*maxMessage))
	if err != nil {
		log.Fatalf("Failed to create endpoint: %v", err)
	}

	var link node.Link
	switch role {
	case node.RoleServer:
		srv := node.NewServer(ep, echoHandler)
		srv.OnResponse = func(r *endpoint.SendReceipt) {
			log.Printf("Responded to %s (#%d)", r.To, r.SequenceNumber)
		}
		link = srv
	case node.RoleClient:
		link = node.NewClient(ep, func(h *protocol.Header) {
			log.Printf("Message from %s: %q", h.From, h.Message)
		})
	}

	go node.Run(ctx, link, tr.Inbound())

	var checkpointDone <-chan struct{}
	if store != nil {
		checkpointDone = startCheckpointLoop(ctx, l, store, *checkpoint)
	}

	var apiServer *api.Server
	if *apiPort > 0 {
		apiConfig := api.DefaultConfig()
		apiConfig.Port = *apiPort
		apiConfig.RateLimit = *rateLimit
		apiConfig.Transport = desc

		apiServer, err = api.NewServer(link, l, apiConfig)
		if err != nil {
			log.Fatalf("Failed to create API server: %v", err)
		}

		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Printf("API server error: %v", err)
			}
		}()
	}

	fmt.Println("Node Information:")
	fmt.Printf("  Address: %s\n", self)
	fmt.Printf("  Role: %s\n", role)
	fmt.Printf("  Transport: %s\n", desc)
	fmt.Printf("  Max message: %d bytes\n", *maxMessage)
	if apiServer != nil {
		fmt.Println()
		fmt.Println("API Endpoints:")
		fmt.Printf("  POST   http://localhost:%d/api/v1/send\n", *apiPort)
		fmt.Printf("  GET    http://localhost:%d/api/v1/ledger\n", *apiPort)
		fmt.Printf("  GET    http://localhost:%d/api/v1/ledger/:location/:field1/:field2/:field3\n", *apiPort)
		fmt.Printf("  GET    http://localhost:%d/api/v1/node/info\n", *apiPort)
		fmt.Printf("  GET    http://localhost:%d/health\n", *apiPort)
		fmt.Printf("  GET    http://localhost:%d/metrics\n", *apiPort)
	}
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh

	fmt.Println()
	log.Println("Shutting down...")

	cancel()

	if err := tr.Close(); err != nil {
		log.Printf("Error closing transport: %v", err)
	}

	if store != nil {
		<-checkpointDone
		if err := store.Save(l.Snapshot()); err != nil {
			log.Printf("Failed to checkpoint ledger: %v", err)
		} else {
			log.Printf("Ledger checkpointed (%d sends)", l.Total())
		}
		store.Close()
	}

	log.Println("Goodbye!")
}

// echoHandler answers every message with the same bytes
func echoHandler(ctx context.Context, h *protocol.Header) ([]byte, bool) {
	log.Printf("Message from %s: %q", h.From, h.Message)
	return h.Message, true
}

func openTransport(ctx context.Context, self protocol.Address, kind, relayAddr, listen, bootstrap, peers string) (transport.Transport, string, error) {
	switch kind {
	case "relay":
		rt, err := transport.DialRelay(ctx, self, transport.DefaultRelayConfig(relayAddr))
		if err != nil {
			return nil, "", err
		}
		return rt, "relay " + relayAddr, nil

	case "p2p":
		cfg := transport.DefaultP2PConfig()
		cfg.ListenAddrs = []string{listen}
		cfg.BootstrapPeers = splitList(bootstrap)
		cfg.EnableNAT = true

		pt, err := transport.NewP2PTransport(ctx, self, cfg)
		if err != nil {
			return nil, "", err
		}

		for _, pair := range splitList(peers) {
			addr, info, err := parsePeer(pair)
			if err != nil {
				pt.Close()
				return nil, "", err
			}
			pt.AddPeer(addr, info)
		}

		for _, a := range pt.FullAddrs() {
			log.Printf("libp2p address: %s", a)
		}

		if len(cfg.BootstrapPeers) > 0 {
			go announceLoop(ctx, pt)
		}

		return pt, "p2p " + pt.ID().String(), nil

	default:
		return nil, "", fmt.Errorf("unknown transport %q", kind)
	}
}

// parsePeer parses "Sirius/2/2/2=/ip4/1.2.3.4/tcp/4001/p2p/<id>"
func parsePeer(pair string) (protocol.Address, peer.AddrInfo, error) {
	addrStr, maddrStr, ok := strings.Cut(pair, "=")
	if !ok {
		return protocol.Address{}, peer.AddrInfo{}, fmt.Errorf("invalid peer %q: want Address=multiaddr", pair)
	}

	addr, err := protocol.ParseAddress(addrStr)
	if err != nil {
		return protocol.Address{}, peer.AddrInfo{}, err
	}

	maddr, err := multiaddr.NewMultiaddr(maddrStr)
	if err != nil {
		return protocol.Address{}, peer.AddrInfo{}, fmt.Errorf("invalid multiaddr %q: %w", maddrStr, err)
	}

	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return protocol.Address{}, peer.AddrInfo{}, err
	}

	return addr, *info, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// announceLoop republishes our provider record until ctx is done
func announceLoop(ctx context.Context, pt *transport.P2PTransport) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		actx, cancel := context.WithTimeout(ctx, time.Minute)
		err := pt.Announce(actx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Announce failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// startCheckpointLoop saves the ledger every interval until ctx is canceled.
// The returned channel is closed once no save is in flight.
func startCheckpointLoop(ctx context.Context, l *ledger.Ledger, store *storage.LedgerStore, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.Save(l.Snapshot()); err != nil {
					log.Printf("Failed to checkpoint ledger: %v", err)
				}
			}
		}
	}()

	return done
}
