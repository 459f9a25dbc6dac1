package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/middleware"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// Devices ping well inside this window; a silent socket is dropped.
const deviceReadTimeout = 90 * time.Second

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Native device clients send no Origin.
				return true
			}
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams proctor commands to exam devices.
type WSHandler struct {
	bus      *service.Broadcaster
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(bus *service.Broadcaster, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		bus:      bus,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// CommandStream godoc
// WS /ws/v1/device/sessions/:session_id/commands?candidate_id=
// Forwards the session's commands that target this candidate. The device
// may send {"action":"ping"} and receives {"event":"pong"}.
func (h *WSHandler) CommandStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID, candidateID := claims.SessionID, claims.CandidateID

	// Subscribe before the upgrade so no command published in between is lost.
	ctx := c.Request.Context()
	pubsub := h.bus.SubscribeCommands(ctx, sessionID)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.Error().Err(err).Msg("Command subscription failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "command stream unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Str("session_id", sessionID).
		Str("candidate_id", candidateID).
		Logger()

	wsLog.Info().Msg("Device connected")

	// Only the read loop reads; writes are funnelled through this goroutine.
	pings := make(chan struct{}, 1)
	rejects := make(chan string, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg, deviceReadTimeout); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			if msg.Action != ws.ActionPing {
				wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
				select {
				case rejects <- "unknown action " + string(msg.Action):
				default:
				}
				continue
			}
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-done:
			return

		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}

		case reason := <-rejects:
			if err := ws.WriteError(conn, reason); err != nil {
				return
			}

		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd model.Command
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				wsLog.Error().Err(err).Msg("Invalid command payload")
				continue
			}
			if !cmd.Targets(sessionID, candidateID) {
				continue
			}
			if err := ws.WriteCommand(conn, cmd); err != nil {
				wsLog.Debug().Err(err).Msg("Command write failed")
				return
			}
			wsLog.Info().Str("kind", string(cmd.Kind)).Msg("Command delivered")
		}
	}
}
