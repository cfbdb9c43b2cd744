package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
	"github.com/ZentaChain/protoz-node/pkg/relay"
	"github.com/ZentaChain/protoz-node/pkg/storage"
)

const (
	defaultPort       = 9001
	heartbeatInterval = 5 * time.Minute
)

var (
	port       = flag.Int("port", defaultPort, "Port to listen on")
	dataDir    = flag.String("data", "./data", "Directory for the offline queue database")
	queueTTL   = flag.Duration("ttl", storage.DefaultQueueTTL, "How long frames for offline endpoints are kept")
	noQueue    = flag.Bool("no-queue", false, "Reject frames for offline endpoints instead of queuing them")
	maxPayload = flag.Int("max-frame", protocol.MaxFramePayload, "Maximum frame payload in bytes")
	heartbeat  = flag.Duration("heartbeat", heartbeatInterval, "Interval between status log lines")
)

func main() {
	flag.Parse()

	printBanner()

	cfg := relay.DefaultConfig()
	cfg.ListenAddr = fmt.Sprintf(":%d", *port)
	cfg.MaxFramePayload = *maxPayload

	server := relay.NewServer(cfg)
	server.OnFrameRelayed = func(from, to protocol.Address) {
		log.Printf("Frame relayed %s -> %s", from, to)
	}

	var queue *storage.OfflineQueue
	if !*noQueue {
		if err := os.MkdirAll(*dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}

		queuePath := filepath.Join(*dataDir, fmt.Sprintf("relay-%d-queue.db", *port))
		var err error
		queue, err = storage.NewOfflineQueue(queuePath, *queueTTL)
		if err != nil {
			log.Fatalf("Failed to create offline queue: %v", err)
		}
		server.AttachOfflineQueue(queue)
		log.Printf("Offline queue initialized at %s (TTL: %v)", queuePath, *queueTTL)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start relay: %v", err)
	}

	go startHeartbeatLoop(server, *heartbeat)

	printStatus(server)

	waitForShutdown(server, queue)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║              proto-z Relay Hub v1.0              ║")
	fmt.Println("║     Point-to-point delivery between endpoints    ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func startHeartbeatLoop(server *relay.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		stats := server.GetStats()

		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("Heartbeat")
		log.Printf("   Frames relayed: %d", stats.FramesRelayed)
		log.Printf("   Frames queued: %d", stats.FramesQueued)
		log.Printf("   Frames rejected: %d", stats.FramesRejected)
		log.Printf("   Connected peers: %d", stats.ConnectedPeers)
		log.Printf("   Pending frames: %d", stats.PendingFrames)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

func printStatus(server *relay.Server) {
	stats := server.GetStats()

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("Relay Hub Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: RUNNING\n")
	fmt.Printf("   Listening: %s\n", server.Addr())
	fmt.Printf("   Offline queue: %v\n", server.OfflineQueue() != nil)
	fmt.Printf("   Pending frames: %d\n", stats.PendingFrames)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(server *relay.Server, queue *storage.OfflineQueue) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	log.Println("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		log.Printf("Error stopping relay: %v", err)
	}

	if queue != nil {
		if err := queue.Close(); err != nil {
			log.Printf("Error closing offline queue: %v", err)
		} else {
			log.Println("Offline queue closed")
		}
	}

	log.Println("Relay stopped")
}
