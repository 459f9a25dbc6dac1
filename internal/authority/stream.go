package authority

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

// Stream holds the fast-path WebSocket to proctord and redials after drops.
type Stream struct {
	url    string
	token  string
	delay  time.Duration
	dialer *websocket.Dialer
	out    chan model.Command
	log    zerolog.Logger
}

// NewStream prepares a stream for one candidate session. baseURL is the HTTP
// base of proctord; the scheme is switched to ws/wss.
func NewStream(baseURL, token, sessionID, candidateID string, reconnectDelay time.Duration, log zerolog.Logger) *Stream {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	u += "/ws/v1/device/sessions/" + url.PathEscape(sessionID) + "/commands?candidate_id=" + url.QueryEscape(candidateID)

	return &Stream{
		url:    u,
		token:  token,
		delay:  reconnectDelay,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		out:    make(chan model.Command, 16),
		log:    log.With().Str("component", "command_stream").Logger(),
	}
}

func (s *Stream) Commands() <-chan model.Command { return s.out }

// Run dials and reads until ctx is cancelled, then closes the command channel.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.out)

	for {
		if err := s.session(ctx); err != nil && ctx.Err() == nil {
			s.log.Debug().Err(err).Msg("Command stream dropped")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}
}

func (s *Stream) session(ctx context.Context) error {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}

	conn, _, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Msg("Command stream connected")

	// Unblock ReadJSON on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg ws.CommandMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Event != ws.EventCommand {
			continue
		}
		select {
		case s.out <- msg.Command:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
