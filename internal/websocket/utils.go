package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-engine/internal/model"
)

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

// WriteCommand forwards a proctor command to a device.
func WriteCommand(conn *websocket.Conn, cmd model.Command) error {
	return WriteTyped(conn, CommandMessage{Event: EventCommand, Command: cmd})
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}, timeout time.Duration) error {
	conn.SetReadDeadline(time.Now().Add(timeout))
	return conn.ReadJSON(v)
}
