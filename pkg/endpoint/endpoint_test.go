package endpoint

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var (
	addrA = protocol.NewAddress(protocol.AlphaCentauri, 1, 1, 1)
	addrB = protocol.NewAddress(protocol.Sirius, 2, 2, 2)
	addrC = protocol.NewAddress(protocol.Betelgeuse, 9, 9, 9)
)

type transmission struct {
	encoded []byte
	to      protocol.Address
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []transmission
	err  error
}

func (r *recordingTransport) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, transmission{encoded: encoded, to: to})
	return nil
}

func TestSendScenario(t *testing.T) {
	l := ledger.New()
	tr := &recordingTransport{}
	a := MustNew(addrA, l, tr)

	receipt, err := a.Send(context.Background(), addrB, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, addrB, receipt.To)
	assert.Equal(t, uint64(1), receipt.SequenceNumber)
	assert.Equal(t, uint64(1), l.CountFor(addrB))

	receipt, err = a.Send(context.Background(), addrB, []byte("hello again"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receipt.SequenceNumber)
	assert.Equal(t, uint64(2), l.CountFor(addrB))

	require.Len(t, tr.sent, 2)
	assert.Equal(t, addrB, tr.sent[0].to)

	h, err := protocol.DecodeHeader(tr.sent[0].encoded)
	require.NoError(t, err)
	assert.Equal(t, addrA, h.From)
	assert.Equal(t, addrB, h.To)
	assert.Equal(t, []byte("hello"), h.Message)
}

func TestSendToSelf(t *testing.T) {
	l := ledger.New()
	tr := &recordingTransport{}
	a := MustNew(addrA, l, tr)

	_, err := a.Send(context.Background(), addrA, []byte("echo"))
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.Equal(t, uint64(0), l.Total())
	assert.Empty(t, tr.sent)
}

func TestSendInvalidDestination(t *testing.T) {
	l := ledger.New()
	a := MustNew(addrA, l, &recordingTransport{})

	_, err := a.Send(context.Background(), protocol.Address{Location: 17}, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidDestination)
	assert.Equal(t, uint64(0), l.Total())
}

func TestSendPayloadTooLarge(t *testing.T) {
	l := ledger.New()
	tr := &recordingTransport{}
	a := MustNew(addrA, l, tr, WithMaxMessageSize(8))

	_, err := a.Send(context.Background(), addrB, bytes.Repeat([]byte("x"), 9))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, uint64(0), l.CountFor(addrB))
	assert.Empty(t, tr.sent)

	// Exactly at the limit is fine
	_, err = a.Send(context.Background(), addrB, bytes.Repeat([]byte("x"), 8))
	assert.NoError(t, err)
}

func TestSendDefaultMaxMessageSize(t *testing.T) {
	a := MustNew(addrA, ledger.New(), &recordingTransport{})
	assert.Equal(t, protocol.DefaultMaxMessageSize, a.MaxMessageSize())

	_, err := a.Send(context.Background(), addrB, make([]byte, protocol.DefaultMaxMessageSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestSendTransportFailureKeepsCount(t *testing.T) {
	l := ledger.New()
	cause := errors.New("link down")
	a := MustNew(addrA, l, &recordingTransport{err: cause})

	receipt, err := a.Send(context.Background(), addrB, []byte("hello"))
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)

	var terr *TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, uint64(1), terr.SequenceNumber)
	assert.Equal(t, addrB, terr.To)

	// Attempt counted, not rolled back
	assert.Equal(t, uint64(1), l.CountFor(addrB))
}

func TestSendPassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := TransportFunc(func(ctx context.Context, encoded []byte, to protocol.Address) error {
		return ctx.Err()
	})
	a := MustNew(addrA, ledger.New(), tr)

	_, err := a.Send(ctx, addrB, []byte("late"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReceive(t *testing.T) {
	b := MustNew(addrB, ledger.New(), &recordingTransport{})

	raw := protocol.EncodeHeader(&protocol.Header{From: addrA, To: addrB, Message: []byte("hello")})
	h, err := b.Receive(raw)
	require.NoError(t, err)
	assert.Equal(t, addrA, h.From)
	assert.Equal(t, []byte("hello"), h.Message)
}

func TestReceiveWrongRecipient(t *testing.T) {
	b := MustNew(addrB, ledger.New(), &recordingTransport{})

	payloads := [][]byte{nil, []byte("hello"), bytes.Repeat([]byte{0}, 1024)}
	for _, p := range payloads {
		raw := protocol.EncodeHeader(&protocol.Header{From: addrA, To: addrC, Message: p})
		_, err := b.Receive(raw)
		assert.ErrorIs(t, err, ErrWrongRecipient)
	}
}

func TestReceiveMalformed(t *testing.T) {
	b := MustNew(addrB, ledger.New(), &recordingTransport{})

	raw := protocol.EncodeHeader(&protocol.Header{From: addrA, To: addrB, Message: []byte("hello")})

	_, err := b.Receive(raw[:len(raw)-2])
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, protocol.ErrMalformedHeader)

	_, err = b.Receive([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReceiveSelfAddressed(t *testing.T) {
	l := ledger.New()
	b := MustNew(addrB, l, &recordingTransport{})

	raw := protocol.EncodeHeader(&protocol.Header{From: addrB, To: addrB, Message: []byte("loop")})
	h, err := b.Receive(raw)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrMalformed)
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)
	assert.Equal(t, uint64(0), l.Total())
}

func TestNewInvalidAddress(t *testing.T) {
	_, err := New(protocol.Address{Location: 99}, ledger.New(), &recordingTransport{})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = New(addrA, nil, &recordingTransport{})
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = New(addrA, ledger.New(), nil)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	assert.Panics(t, func() {
		MustNew(protocol.Address{Location: 99}, ledger.New(), &recordingTransport{})
	})
}

func TestSharedLedgerAcrossEndpoints(t *testing.T) {
	const perEndpoint = 200

	l := ledger.New()
	endpoints := []*Endpoint{
		MustNew(addrA, l, &recordingTransport{}),
		MustNew(addrB, l, &recordingTransport{}),
		MustNew(addrC, l, &recordingTransport{}),
	}

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func(ep *Endpoint, to protocol.Address) {
			defer wg.Done()
			for n := 0; n < perEndpoint; n++ {
				r, err := ep.Send(context.Background(), to, []byte("ping"))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[r.SequenceNumber] = true
				mu.Unlock()
			}
		}(ep, endpoints[(i+1)%len(endpoints)].Address())
	}
	wg.Wait()

	total := uint64(len(endpoints) * perEndpoint)
	assert.Equal(t, total, l.Total())
	assert.Len(t, seen, int(total))
	for seq := uint64(1); seq <= total; seq++ {
		assert.True(t, seen[seq], "missing sequence number %d", seq)
	}
}
