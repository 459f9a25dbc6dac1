package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

type MonitorHandler struct {
	monitorService *service.MonitorService
	log            zerolog.Logger
}

func NewMonitorHandler(monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorSessionSSE godoc
// GET /api/v1/proctor/sessions/:session_id/monitor
// Sends a snapshot, then forwards live result, session and command events.
func (h *MonitorHandler) MonitorSessionSSE(c *gin.Context) {
	sessionID := c.Param("session_id")
	reqCtx := c.Request.Context()

	snapCtx, cancel := context.WithTimeout(reqCtx, refreshTimeout)
	snapshot, err := h.monitorService.Snapshot(snapCtx, sessionID)
	cancel()
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("Monitor snapshot failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	pubsub := h.monitorService.Subscribe(reqCtx, sessionID)
	defer pubsub.Close()
	ch := pubsub.Channel()

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snapshot})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(refreshInterval)
	defer refreshTicker.Stop()

	// Skip periodic refreshes until some device has pushed.
	active := len(snapshot.Results) > 0

	h.log.Info().Str("session_id", sessionID).Msg("Proctor attached to live monitor SSE")

	// Pre-allocate a reusable ping payload (never changes)
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("session_id", sessionID).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward raw JSON directly, no decoding needed
			h.writeData(c, []byte(msg.Payload))
			active = true

		case <-refreshTicker.C:
			if !active {
				continue
			}
			h.sendRefresh(c, reqCtx, sessionID)

		case <-keepAliveTicker.C:
			h.writeData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) writeData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

// sendRefresh re-reads the stored rows so the view converges even if a
// pub/sub message was dropped.
func (h *MonitorHandler) sendRefresh(c *gin.Context, parentCtx context.Context, sessionID string) {
	ctx, cancel := context.WithTimeout(parentCtx, refreshTimeout)
	defer cancel()

	snapshot, err := h.monitorService.Snapshot(ctx, sessionID)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
		return
	}

	c.SSEvent("message", gin.H{"type": "refresh", "data": snapshot})
	c.Writer.Flush()
}
