package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
	"github.com/ZentaChain/protoz-node/pkg/storage"
)

func TestCheckpointLoopStopsBeforeStoreCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := storage.NewLedgerStore(path)
	require.NoError(t, err)

	l := ledger.New()
	to := protocol.NewAddress(protocol.ProximaCentauri, 4, 5, 6)
	l.RecordSend(to)
	l.RecordSend(to)

	ctx, cancel := context.WithCancel(context.Background())
	done := startCheckpointLoop(ctx, l, store, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		snap, err := store.Load()
		return err == nil && snap.Total == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint loop did not exit")
	}

	// Final save after the loop, as shutdown does
	l.RecordSend(to)
	require.NoError(t, store.Save(l.Snapshot()))
	require.NoError(t, store.Close())

	reopened, err := storage.NewLedgerStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	snap, err := reopened.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Total)
}
