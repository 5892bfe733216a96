package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-live/internal/response"
)

const writeWait = 10 * time.Second

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, kind response.ErrCode, msg string) error {
	return WriteTyped(conn, NewError(kind, msg))
}

// WritePing sends a ping control frame. Only the goroutine that owns writes
// on conn may call it.
func WritePing(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.PingMessage, nil)
}

// NewMessage wraps data in the event envelope.
func NewMessage(event Event, data interface{}) Message {
	return Message{Event: event, Data: data}
}

// NewError builds an error event.
func NewError(kind response.ErrCode, msg string) ErrorResponse {
	if msg == "" {
		msg = response.GetMessage(kind)
	}
	return ErrorResponse{Event: EventError, Error: ErrorBody{Kind: kind, Message: msg}}
}

// ReadMessage reads one raw frame with a read deadline of wait.
func ReadMessage(conn *websocket.Conn, wait time.Duration) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(wait))
	_, data, err := conn.ReadMessage()
	return data, err
}
