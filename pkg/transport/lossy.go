package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/klauspost/reedsolomon"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

const (
	// LossyDataShards is the number of data shards per frame
	LossyDataShards = 4
	// LossyParityShards is the number of parity shards per frame
	LossyParityShards = 2
	// LossyTotalShards is the number of shards sent per frame
	LossyTotalShards = LossyDataShards + LossyParityShards

	// shard wire header: frame ID (16) + index (1) + original length (4)
	shardHeaderSize = 21

	completedCacheSize = 4096

	minExpireInterval = time.Millisecond
)

// LossyConfig configures a LossyLink
type LossyConfig struct {
	// Loss is the probability [0..1] that a single shard is dropped
	Loss float64

	// Drop, when set, decides per shard instead of Loss
	Drop func(shard int) bool

	// ReassemblyTimeout bounds how long partial frames are kept
	ReassemblyTimeout time.Duration

	// InboxSize is the buffer of reconstructed frames
	InboxSize int

	// Seed (optional). If 0, uses time.Now().UnixNano()
	Seed int64
}

// DefaultLossyConfig returns a loss-free configuration
func DefaultLossyConfig() LossyConfig {
	return LossyConfig{
		ReassemblyTimeout: 2 * time.Second,
		InboxSize:         DefaultInboxSize,
	}
}

// LossyStats summarizes link behavior. FramesLost counts, on the sending
// side, frames left with fewer than LossyDataShards shards after the loss
// model and, on the receiving side, frames that could not be reassembled.
type LossyStats struct {
	FramesSent      uint64
	ShardsDropped   uint64
	FramesRecovered uint64
	FramesLost      uint64
}

type partialFrame struct {
	shards   [][]byte
	have     int
	size     int
	received time.Time
}

// LossyLink wraps a switch attachment with shard-level loss and Reed-Solomon
// recovery. Both ends of a conversation must use a LossyLink.
type LossyLink struct {
	under *MemTransport
	enc   reedsolomon.Encoder
	cfg   LossyConfig

	in      chan []byte
	pending map[protocol.MessageID]*partialFrame
	done    *lru.Cache

	rngMu sync.Mutex
	rng   *rand.Rand

	framesSent      atomic.Uint64
	shardsDropped   atomic.Uint64
	framesRecovered atomic.Uint64
	framesLost      atomic.Uint64

	expireEvery time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewLossyLink wraps under. The link owns under from here on.
func NewLossyLink(under *MemTransport, cfg LossyConfig) (*LossyLink, error) {
	if cfg.ReassemblyTimeout <= 0 {
		cfg.ReassemblyTimeout = 2 * time.Second
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	enc, err := reedsolomon.New(LossyDataShards, LossyParityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to create Reed-Solomon encoder: %w", err)
	}

	done, err := lru.New(completedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create completion cache: %w", err)
	}

	l := &LossyLink{
		under:   under,
		enc:     enc,
		cfg:     cfg,
		in:      make(chan []byte, cfg.InboxSize),
		pending: make(map[protocol.MessageID]*partialFrame),
		done:    done,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}

	l.expireEvery = cfg.ReassemblyTimeout / 2
	if l.expireEvery < minExpireInterval {
		l.expireEvery = minExpireInterval
	}

	l.ctx, l.cancel = context.WithCancel(context.Background())
	l.wg.Add(1)
	go l.pumpRecv()

	return l, nil
}

// Address returns the attached address
func (l *LossyLink) Address() protocol.Address { return l.under.Address() }

// Inbound implements Transport
func (l *LossyLink) Inbound() <-chan []byte { return l.in }

// Stats returns link counters
func (l *LossyLink) Stats() LossyStats {
	return LossyStats{
		FramesSent:      l.framesSent.Load(),
		ShardsDropped:   l.shardsDropped.Load(),
		FramesRecovered: l.framesRecovered.Load(),
		FramesLost:      l.framesLost.Load(),
	}
}

// Transmit shards encoded and sends every shard that survives the loss model.
// Loss is silent: only errors of the underlying switch are reported.
func (l *LossyLink) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	if len(encoded) == 0 {
		return fmt.Errorf("cannot shard empty frame")
	}

	shards, err := l.enc.Split(append([]byte(nil), encoded...))
	if err != nil {
		return fmt.Errorf("failed to split frame: %w", err)
	}
	if err := l.enc.Encode(shards); err != nil {
		return fmt.Errorf("failed to encode parity: %w", err)
	}

	id := protocol.GenerateMessageID()
	l.framesSent.Add(1)

	survivors := 0
	defer func() {
		if survivors < LossyDataShards {
			l.framesLost.Add(1)
		}
	}()

	for i, shard := range shards {
		if l.dropShard(i) {
			l.shardsDropped.Add(1)
			continue
		}
		survivors++

		wire := make([]byte, shardHeaderSize+len(shard))
		copy(wire[0:16], id[:])
		wire[16] = byte(i)
		binary.BigEndian.PutUint32(wire[17:21], uint32(len(encoded)))
		copy(wire[shardHeaderSize:], shard)

		if err := l.under.Transmit(ctx, wire, to); err != nil {
			return err
		}
	}

	return nil
}

// Close stops the receive pump and detaches from the switch. Safe to call
// more than once.
func (l *LossyLink) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.closeErr = l.under.Close()
		l.wg.Wait()
		close(l.in)
	})
	return l.closeErr
}

func (l *LossyLink) dropShard(i int) bool {
	if l.cfg.Drop != nil {
		return l.cfg.Drop(i)
	}
	if l.cfg.Loss <= 0 {
		return false
	}
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	return l.rng.Float64() < l.cfg.Loss
}

func (l *LossyLink) pumpRecv() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.expireEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case now := <-ticker.C:
			l.expire(now)
		case wire, ok := <-l.under.Inbound():
			if !ok {
				return
			}
			l.handleShard(wire)
		}
	}
}

func (l *LossyLink) handleShard(wire []byte) {
	if len(wire) <= shardHeaderSize {
		log.Printf("[lossy %s] Dropping short shard (%d bytes)", l.Address(), len(wire))
		return
	}

	var id protocol.MessageID
	copy(id[:], wire[0:16])
	index := int(wire[16])
	size := int(binary.BigEndian.Uint32(wire[17:21]))

	if index >= LossyTotalShards {
		log.Printf("[lossy %s] Dropping shard with index %d", l.Address(), index)
		return
	}
	if l.done.Contains(id) {
		return
	}

	pf, ok := l.pending[id]
	if !ok {
		pf = &partialFrame{
			shards:   make([][]byte, LossyTotalShards),
			size:     size,
			received: time.Now(),
		}
		l.pending[id] = pf
	}
	if pf.shards[index] != nil {
		return
	}
	pf.shards[index] = append([]byte(nil), wire[shardHeaderSize:]...)
	pf.have++

	if pf.have < LossyDataShards {
		return
	}

	delete(l.pending, id)
	l.done.Add(id, struct{}{})

	frame, err := l.reconstruct(pf)
	if err != nil {
		l.framesLost.Add(1)
		log.Printf("[lossy %s] Failed to reconstruct frame %s: %v", l.Address(), id, err)
		return
	}

	l.framesRecovered.Add(1)
	select {
	case l.in <- frame:
	default:
		l.framesLost.Add(1)
		log.Printf("[lossy %s] Inbox full, frame %s dropped", l.Address(), id)
	}
}

func (l *LossyLink) reconstruct(pf *partialFrame) ([]byte, error) {
	if err := l.enc.ReconstructData(pf.shards); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := l.enc.Join(&buf, pf.shards, pf.size); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// expire counts partial frames that can no longer complete as lost
func (l *LossyLink) expire(now time.Time) {
	for id, pf := range l.pending {
		if now.Sub(pf.received) < l.cfg.ReassemblyTimeout {
			continue
		}
		delete(l.pending, id)
		l.done.Add(id, struct{}{})
		l.framesLost.Add(1)
	}
}
