package ledger

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var (
	alpha  = protocol.NewAddress(protocol.AlphaCentauri, 1, 1, 1)
	sirius = protocol.NewAddress(protocol.Sirius, 2, 2, 2)
	betel  = protocol.NewAddress(protocol.Betelgeuse, 9, 9, 9)
)

func TestRecordSend(t *testing.T) {
	l := New()

	assert.Equal(t, uint64(1), l.RecordSend(sirius))
	assert.Equal(t, uint64(1), l.CountFor(sirius))

	assert.Equal(t, uint64(2), l.RecordSend(sirius))
	assert.Equal(t, uint64(2), l.CountFor(sirius))

	assert.Equal(t, uint64(3), l.RecordSend(betel))
	assert.Equal(t, uint64(1), l.CountFor(betel))
	assert.Equal(t, uint64(0), l.CountFor(alpha))
	assert.Equal(t, uint64(3), l.Total())
}

func TestRecordSendConcurrent(t *testing.T) {
	const workers = 16
	const perWorker = 250

	l := New()
	targets := []protocol.Address{alpha, sirius, betel}

	results := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				results <- l.RecordSend(targets[(w+i)%len(targets)])
			}
		}(w)
	}
	wg.Wait()
	close(results)

	var got []uint64
	for v := range results {
		got = append(got, v)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })

	require.Len(t, got, workers*perWorker)
	for i, v := range got {
		require.Equal(t, uint64(i+1), v, "sequence numbers must be distinct and contiguous")
	}

	assert.Equal(t, uint64(workers*perWorker), l.Total())

	var sum uint64
	for _, addr := range targets {
		sum += l.CountFor(addr)
	}
	assert.Equal(t, l.Total(), sum)
}

func TestCountForMonotonic(t *testing.T) {
	l := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			l.RecordSend(sirius)
		}
	}()

	var last uint64
	for {
		select {
		case <-done:
			assert.Equal(t, uint64(2000), l.CountFor(sirius))
			return
		default:
		}
		n := l.CountFor(sirius)
		require.GreaterOrEqual(t, n, last)
		last = n
	}
}

func TestObserver(t *testing.T) {
	var calls atomic.Uint64
	var highest atomic.Uint64

	l := New(WithObserver(func(total uint64) {
		calls.Add(1)
		for {
			cur := highest.Load()
			if total <= cur || highest.CompareAndSwap(cur, total) {
				return
			}
		}
	}))

	for i := 0; i < 5; i++ {
		l.RecordSend(betel)
	}

	assert.Equal(t, uint64(5), calls.Load())
	assert.Equal(t, uint64(5), highest.Load())
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	l.RecordSend(sirius)
	l.RecordSend(alpha)
	l.RecordSend(sirius)

	snap := l.Snapshot()
	assert.Equal(t, uint64(3), snap.Total)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, Entry{Address: alpha, Count: 1}, snap.Entries[0])
	assert.Equal(t, Entry{Address: sirius, Count: 2}, snap.Entries[1])

	restored := New()
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, uint64(3), restored.Total())
	assert.Equal(t, uint64(2), restored.CountFor(sirius))
	assert.Equal(t, []protocol.Address{alpha, sirius}, restored.Addresses())

	// Continues from the restored total
	assert.Equal(t, uint64(4), restored.RecordSend(betel))

	assert.ErrorIs(t, restored.Restore(snap), ErrNotEmpty)
}

func TestCollector(t *testing.T) {
	l := New()
	l.RecordSend(sirius)
	l.RecordSend(betel)

	c := NewCollector(l)
	assert.Equal(t, 3, testutil.CollectAndCount(c))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "protoz_ledger_sends_total"))
	assert.Equal(t, 2, testutil.CollectAndCount(c, "protoz_ledger_sends_by_destination"))
}
