// Package ledger tracks send activity shared by every endpoint in a process.
package ledger

import (
	"errors"
	"sort"
	"sync"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var ErrNotEmpty = errors.New("ledger already has entries")

// Ledger counts sends per destination address plus a global total.
// All mutation goes through RecordSend; the lock covers an increment and a
// map write, nothing else.
type Ledger struct {
	mu     sync.Mutex
	counts map[protocol.Address]uint64
	total  uint64

	onAdvance func(total uint64)
}

// Option configures a Ledger
type Option func(*Ledger)

// WithObserver registers fn to be called with the new total after every
// RecordSend. fn runs outside the ledger lock, so calls from concurrent
// senders may arrive out of order.
func WithObserver(fn func(total uint64)) Option {
	return func(l *Ledger) {
		l.onAdvance = fn
	}
}

// New creates an empty ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{
		counts: make(map[protocol.Address]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RecordSend counts one send to addr and returns the post-increment global
// total. Concurrent callers always get distinct, contiguous totals.
func (l *Ledger) RecordSend(to protocol.Address) uint64 {
	l.mu.Lock()
	l.counts[to]++
	l.total++
	total := l.total
	l.mu.Unlock()

	if l.onAdvance != nil {
		l.onAdvance(total)
	}

	return total
}

// CountFor returns the number of sends recorded for addr
func (l *Ledger) CountFor(addr protocol.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[addr]
}

// Total returns the global send counter
func (l *Ledger) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Addresses returns every address that has been sent to, sorted
func (l *Ledger) Addresses() []protocol.Address {
	l.mu.Lock()
	addrs := make([]protocol.Address, 0, len(l.counts))
	for addr := range l.counts {
		addrs = append(addrs, addr)
	}
	l.mu.Unlock()

	sortAddresses(addrs)
	return addrs
}

// Entry is one address and its send count
type Entry struct {
	Address protocol.Address
	Count   uint64
}

// Snapshot is a consistent copy of the ledger
type Snapshot struct {
	Total   uint64
	Entries []Entry
}

// Snapshot copies the ledger under one lock acquisition. Entries are sorted
// by address.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	snap := Snapshot{
		Total:   l.total,
		Entries: make([]Entry, 0, len(l.counts)),
	}
	for addr, n := range l.counts {
		snap.Entries = append(snap.Entries, Entry{Address: addr, Count: n})
	}
	l.mu.Unlock()

	sort.Slice(snap.Entries, func(i, j int) bool {
		return addressLess(snap.Entries[i].Address, snap.Entries[j].Address)
	})
	return snap
}

// Restore seeds an empty ledger from a snapshot
func (l *Ledger) Restore(snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total != 0 || len(l.counts) != 0 {
		return ErrNotEmpty
	}

	for _, e := range snap.Entries {
		l.counts[e.Address] = e.Count
	}
	l.total = snap.Total
	return nil
}

func sortAddresses(addrs []protocol.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return addressLess(addrs[i], addrs[j])
	})
}

func addressLess(a, b protocol.Address) bool {
	if a.Location != b.Location {
		return a.Location < b.Location
	}
	if a.Field1 != b.Field1 {
		return a.Field1 < b.Field1
	}
	if a.Field2 != b.Field2 {
		return a.Field2 < b.Field2
	}
	return a.Field3 < b.Field3
}
