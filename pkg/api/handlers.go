package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZentaChain/protoz-node/pkg/endpoint"
	"github.com/ZentaChain/protoz-node/pkg/protocol"
)

// SendRequest asks the node to send one message
type SendRequest struct {
	To       string `json:"to" binding:"required"`
	Message  string `json:"message"`
	Encoding string `json:"encoding,omitempty"` // "utf8" (default) or "base64"
}

// SendResponse reports the ledger position of an accepted send
type SendResponse struct {
	Success        bool   `json:"success"`
	To             string `json:"to"`
	SequenceNumber uint64 `json:"sequenceNumber"`
	Error          string `json:"error,omitempty"`
}

// LedgerEntry is one destination and its send count
type LedgerEntry struct {
	Address  string `json:"address"`
	Location string `json:"location"`
	Count    uint64 `json:"count"`
}

// LedgerResponse is the full ledger
type LedgerResponse struct {
	Success bool          `json:"success"`
	Total   uint64        `json:"total"`
	Entries []LedgerEntry `json:"entries"`
}

// LedgerEntryResponse is the count for one address
type LedgerEntryResponse struct {
	Success bool   `json:"success"`
	Address string `json:"address"`
	Count   uint64 `json:"count"`
	Total   uint64 `json:"total"`
}

// NodeInfoResponse contains information about this node
type NodeInfoResponse struct {
	Success        bool      `json:"success"`
	Address        string    `json:"address"`
	Role           string    `json:"role"`
	Transport      string    `json:"transport,omitempty"`
	MaxMessageSize int       `json:"maxMessageSize,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	Uptime         string    `json:"uptime"`
}

// HealthResponse contains system health information
type HealthResponse struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	Goroutines int    `json:"goroutines"`
	TotalSends uint64 `json:"totalSends"`
}

// maxMessageSizer is implemented by links that expose their endpoint limit
type maxMessageSizer interface {
	MaxMessageSize() int
}

// handleSend sends a message through the node's link
func (s *Server) handleSend(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	to, err := protocol.ParseAddress(req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid destination address",
			Message: err.Error(),
			Code:    "INVALID_ADDRESS",
		})
		return
	}

	var message []byte
	switch strings.ToLower(req.Encoding) {
	case "", "utf8", "utf-8":
		message = []byte(req.Message)
	case "base64":
		message, err = base64.StdEncoding.DecodeString(req.Message)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid base64 message",
				Message: err.Error(),
			})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Unsupported encoding",
			Message: req.Encoding,
		})
		return
	}

	receipt, err := s.link.Send(c.Request.Context(), to, message)
	if err != nil {
		var transportErr *endpoint.TransportError
		switch {
		case errors.As(err, &transportErr):
			// The attempt was counted even though the transport failed
			c.JSON(http.StatusBadGateway, SendResponse{
				Success:        false,
				To:             to.String(),
				SequenceNumber: transportErr.SequenceNumber,
				Error:          err.Error(),
			})
		case errors.Is(err, endpoint.ErrInvalidDestination):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid destination",
				Message: err.Error(),
				Code:    "INVALID_DESTINATION",
			})
		case errors.Is(err, endpoint.ErrPayloadTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Error:   "Message too large",
				Message: err.Error(),
				Code:    "PAYLOAD_TOO_LARGE",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "Send failed",
				Message: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, SendResponse{
		Success:        true,
		To:             receipt.To.String(),
		SequenceNumber: receipt.SequenceNumber,
	})
}

// handleLedger returns every destination and its count
func (s *Server) handleLedger(c *gin.Context) {
	snap := s.ledger.Snapshot()

	entries := make([]LedgerEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, LedgerEntry{
			Address:  e.Address.String(),
			Location: e.Address.Location.String(),
			Count:    e.Count,
		})
	}

	c.JSON(http.StatusOK, LedgerResponse{
		Success: true,
		Total:   snap.Total,
		Entries: entries,
	})
}

// handleLedgerEntry returns the count for one address. Unknown but valid
// addresses have a count of zero.
func (s *Server) handleLedgerEntry(c *gin.Context) {
	raw := strings.Join([]string{
		c.Param("location"),
		c.Param("field1"),
		c.Param("field2"),
		c.Param("field3"),
	}, "/")

	addr, err := protocol.ParseAddress(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid address",
			Message: err.Error(),
			Code:    "INVALID_ADDRESS",
		})
		return
	}

	c.JSON(http.StatusOK, LedgerEntryResponse{
		Success: true,
		Address: addr.String(),
		Count:   s.ledger.CountFor(addr),
		Total:   s.ledger.Total(),
	})
}

// handleNodeInfo returns information about this node
func (s *Server) handleNodeInfo(c *gin.Context) {
	resp := NodeInfoResponse{
		Success:   true,
		Address:   s.link.Address().String(),
		Role:      string(s.link.Role()),
		Transport: s.transport,
		StartedAt: s.startTime,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	if m, ok := s.link.(maxMessageSizer); ok {
		resp.MaxMessageSize = m.MaxMessageSize()
	}

	c.JSON(http.StatusOK, resp)
}

// handleHealth returns a liveness summary
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Success:    true,
		Status:     "healthy",
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		TotalSends: s.ledger.Total(),
	})
}
