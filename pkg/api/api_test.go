package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/ledger"
	"github.com/ZentaChain/protoz-node/pkg/node"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

var self = protocol.NewAddress(protocol.Sirius, 2, 2, 2)

type captured struct {
	frames [][]byte
	fail   bool
}

func (c *captured) Transmit(ctx context.Context, encoded []byte, to protocol.Address) error {
	if c.fail {
		return errors.New("link down")
	}
	c.frames = append(c.frames, encoded)
	return nil
}

func newTestServer(t *testing.T, tr *captured, cfg *Config) (*Server, *ledger.Ledger) {
	t.Helper()

	l := ledger.New()
	ep := endpoint.MustNew(self, l, tr, endpoint.WithMaxMessageSize(16))
	srv, err := NewServer(node.NewClient(ep, nil), l, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop() })

	return srv, l
}

func postSend(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	reqBody, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/send", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)
	return w
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestSendAndLedger(t *testing.T) {
	tr := &captured{}
	srv, l := newTestServer(t, tr, nil)

	t.Run("Send", func(t *testing.T) {
		w := postSend(t, srv, SendRequest{To: "AlphaCentauri/0/0/0", Message: "hello"})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp SendResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "AlphaCentauri/0/0/0", resp.To)
		assert.Equal(t, uint64(1), resp.SequenceNumber)

		require.Len(t, tr.frames, 1)
		h, err := protocol.DecodeHeader(tr.frames[0])
		require.NoError(t, err)
		assert.Equal(t, self, h.From)
		assert.Equal(t, "hello", string(h.Message))
	})

	t.Run("SendBase64", func(t *testing.T) {
		w := postSend(t, srv, SendRequest{To: "AlphaCentauri/0/0/0", Message: "AAEC", Encoding: "base64"})
		assert.Equal(t, http.StatusOK, w.Code)

		h, err := protocol.DecodeHeader(tr.frames[1])
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2}, h.Message)
	})

	t.Run("Ledger", func(t *testing.T) {
		w := get(srv, "/api/v1/ledger")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp LedgerResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(2), resp.Total)
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, "AlphaCentauri/0/0/0", resp.Entries[0].Address)
		assert.Equal(t, "AlphaCentauri", resp.Entries[0].Location)
		assert.Equal(t, uint64(2), resp.Entries[0].Count)
	})

	t.Run("LedgerEntry", func(t *testing.T) {
		w := get(srv, "/api/v1/ledger/AlphaCentauri/0/0/0")
		assert.Equal(t, http.StatusOK, w.Code)

		var resp LedgerEntryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(2), resp.Count)

		w = get(srv, "/api/v1/ledger/Betelgeuse/9/9/9")
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, uint64(0), resp.Count)
		assert.Equal(t, uint64(2), l.Total())
	})

	t.Run("LedgerEntryInvalid", func(t *testing.T) {
		w := get(srv, "/api/v1/ledger/Vega/1/2/3")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestSendErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		fail       bool
		wantStatus int
		wantCount  uint64
	}{
		{"missing to", map[string]string{"message": "x"}, false, http.StatusBadRequest, 0},
		{"unknown location", SendRequest{To: "Vega/1/1/1", Message: "x"}, false, http.StatusBadRequest, 0},
		{"self addressed", SendRequest{To: self.String(), Message: "x"}, false, http.StatusBadRequest, 0},
		{"too large", SendRequest{To: "AlphaCentauri/0/0/0", Message: strings.Repeat("x", 17)}, false, http.StatusRequestEntityTooLarge, 0},
		{"bad encoding", SendRequest{To: "AlphaCentauri/0/0/0", Message: "x", Encoding: "rot13"}, false, http.StatusBadRequest, 0},
		{"transport failure", SendRequest{To: "AlphaCentauri/0/0/0", Message: "x"}, true, http.StatusBadGateway, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, l := newTestServer(t, &captured{fail: tt.fail}, nil)

			w := postSend(t, srv, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCount, l.Total())
		})
	}
}

func TestTransportFailureReportsSequence(t *testing.T) {
	srv, _ := newTestServer(t, &captured{fail: true}, nil)

	w := postSend(t, srv, SendRequest{To: "AlphaCentauri/0/0/0", Message: "x"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp SendResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, uint64(1), resp.SequenceNumber)
	assert.Contains(t, resp.Error, "link down")
}

func TestNodeInfoAndHealth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport = "memory"
	srv, _ := newTestServer(t, &captured{}, cfg)

	w := get(srv, "/api/v1/node/info")
	assert.Equal(t, http.StatusOK, w.Code)

	var info NodeInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "Sirius/2/2/2", info.Address)
	assert.Equal(t, "client", info.Role)
	assert.Equal(t, "memory", info.Transport)
	assert.Equal(t, 16, info.MaxMessageSize)

	w = get(srv, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &captured{}, nil)

	postSend(t, srv, SendRequest{To: "AlphaCentauri/0/0/0", Message: "x"})

	w := get(srv, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "protoz_ledger_sends_total 1")
	assert.Contains(t, body, `protoz_ledger_sends_by_destination{address="AlphaCentauri/0/0/0",location="AlphaCentauri"} 1`)
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 2
	srv, _ := newTestServer(t, &captured{}, cfg)

	assert.Equal(t, http.StatusOK, get(srv, "/health").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(srv, "/health").Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, &captured{}, nil)

	req := httptest.NewRequest("OPTIONS", "/api/v1/send", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewServerRequiresCollaborators(t *testing.T) {
	_, err := NewServer(nil, ledger.New(), nil)
	assert.Error(t, err)
}
