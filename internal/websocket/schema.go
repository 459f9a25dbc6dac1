package websocket

import "github.com/stemsi/exstem-engine/internal/model"

// ─── Actions (Device → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Device) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventCommand Event = "command"
	EventPong    Event = "pong"
)

// CommandMessage carries one proctor command to a device.
type CommandMessage struct {
	Event   Event         `json:"event"`
	Command model.Command `json:"command"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
