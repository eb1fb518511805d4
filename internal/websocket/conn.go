package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// Students can sit on one question for a while; pongs keep the
	// deadline moving as long as the browser is alive.
	readWait   = 90 * time.Second
	pingPeriod = 30 * time.Second

	// Captured frames arrive as data URLs inside command results.
	maxMessageSize = 8 << 20
)

// prepareConn applies the read limit and keeps the read deadline fresh on
// every pong.
func prepareConn(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
}

func writeMessage(conn *websocket.Conn, v any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(v)
}

func readMessage(conn *websocket.Conn, v *RequestPayload) error {
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		return err
	}
	return conn.ReadJSON(v)
}
