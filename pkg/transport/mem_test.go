package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var (
	alice = protocol.NewAddress(protocol.Sirius, 1, 1, 1)
	bob   = protocol.NewAddress(protocol.Betelgeuse, 2, 2, 2)
	carol = protocol.NewAddress(protocol.AndromedaGalaxy, 3, 3, 3)
)

func TestSwitchDelivers(t *testing.T) {
	sw := NewSwitch(4)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	defer a.Close()

	b, err := sw.Attach(bob)
	require.NoError(t, err)
	defer b.Close()

	payload := []byte("hello")
	require.NoError(t, a.Transmit(context.Background(), payload, bob))

	// Mutating the sender's buffer must not affect the delivered copy
	payload[0] = 'j'

	got := <-b.Inbound()
	assert.Equal(t, []byte("hello"), got)
}

func TestSwitchDuplicateAttach(t *testing.T) {
	sw := NewSwitch(0)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	defer a.Close()

	_, err = sw.Attach(alice)
	assert.True(t, errors.Is(err, ErrAddressInUse))
}

func TestSwitchUnknownDestination(t *testing.T) {
	sw := NewSwitch(0)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	defer a.Close()

	err = a.Transmit(context.Background(), []byte("x"), carol)
	assert.True(t, errors.Is(err, ErrUnknownDestination))
}

func TestSwitchInboxFull(t *testing.T) {
	sw := NewSwitch(1)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	defer a.Close()

	b, err := sw.Attach(bob)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Transmit(context.Background(), []byte("1"), bob))
	err = a.Transmit(context.Background(), []byte("2"), bob)
	assert.True(t, errors.Is(err, ErrInboxFull))
}

func TestSwitchClose(t *testing.T) {
	sw := NewSwitch(0)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	b, err := sw.Attach(bob)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.False(t, sw.Attached(alice))

	_, ok := <-a.Inbound()
	assert.False(t, ok, "inbound should be closed")

	err = a.Transmit(context.Background(), []byte("x"), bob)
	assert.True(t, errors.Is(err, ErrClosed))

	err = b.Transmit(context.Background(), []byte("x"), alice)
	assert.True(t, errors.Is(err, ErrUnknownDestination))

	// The address can be attached again once released
	again, err := sw.Attach(alice)
	require.NoError(t, err)
	again.Close()
}

func TestSwitchCanceledContext(t *testing.T) {
	sw := NewSwitch(0)

	a, err := sw.Attach(alice)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = a.Transmit(ctx, []byte("x"), alice)
	assert.ErrorIs(t, err, context.Canceled)
}
