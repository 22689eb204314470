package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"taxi/internal/domain"
	"taxi/internal/geo"
	"taxi/internal/history"
	"taxi/internal/rating"
	"taxi/internal/registry"
)

// MonitorHandler exposes read-only operator views of the live engine
// state. Actors themselves talk to the shared store directly; this surface
// exists for operations and demos only.
type MonitorHandler struct {
	presence *registry.PresenceRegistry
	calls    *registry.CallRegistry
	ratings  *rating.Aggregator
	rides    history.Reader
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(presence *registry.PresenceRegistry, calls *registry.CallRegistry, ratings *rating.Aggregator, logger *zap.Logger) *MonitorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorHandler{
		presence: presence,
		calls:    calls,
		ratings:  ratings,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Operator tooling connects from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// GetPresence handles GET /v1/presence?role=Driver&lat=..&lng=..&radius_km=..
// Returns the live (non-stale) presence view for one role, optionally
// narrowed to a circular region.
func (h *MonitorHandler) GetPresence(c *gin.Context) {
	role := domain.Role(c.Query("role"))

	var region *geo.Region
	if c.Query("radius_km") != "" {
		lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
		lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
		radius, err3 := strconv.ParseFloat(c.Query("radius_km"), 64)
		if err1 != nil || err2 != nil || err3 != nil || radius <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid region parameters"})
			return
		}
		region = &geo.Region{CenterLat: lat, CenterLng: lng, RadiusKm: radius}
	}

	records, err := h.presence.Active(c.Request.Context(), role, region)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "records": records})
}

// GetOpenCalls handles GET /v1/calls/open.
func (h *MonitorHandler) GetOpenCalls(c *gin.Context) {
	calls, err := h.calls.OpenCallsSnapshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(calls), "calls": calls})
}

// GetCall handles GET /v1/calls/:id.
func (h *MonitorHandler) GetCall(c *gin.Context) {
	call, err := h.calls.GetCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if call == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "call not found"})
		return
	}
	c.JSON(http.StatusOK, call)
}

// WithHistory wires a ride history reader into the handler. Without it
// GET /v1/history responds 404.
func (h *MonitorHandler) WithHistory(rides history.Reader) *MonitorHandler {
	h.rides = rides
	return h
}

// GetHistory handles GET /v1/history?limit=N.
func (h *MonitorHandler) GetHistory(c *gin.Context) {
	if h.rides == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ride history is not configured"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := h.rides.Recent(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(records), "rides": records})
}

// GetRating handles GET /v1/actors/:id/rating.
func (h *MonitorHandler) GetRating(c *gin.Context) {
	avg, err := h.ratings.GetRating(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actor_id": c.Param("id"), "average": avg})
}

// StreamOpenCalls handles GET /v1/monitor/calls: upgrades to a websocket
// and pushes the filtered open-call listing on every change.
func (h *MonitorHandler) StreamOpenCalls(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	stream, err := h.calls.ListOpenCalls(c.Request.Context())
	if err != nil {
		h.log.Warn("open call stream failed", zap.Error(err))
		_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		return
	}
	defer stream.Close()

	// Reader goroutine: the client never sends data, but reading is what
	// detects the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case calls := <-stream.Updates():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(gin.H{"count": len(calls), "calls": calls}); err != nil {
				return
			}
		}
	}
}
