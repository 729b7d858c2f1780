package stream

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512
)

// WSHandler upgrades the connection and pushes hub events as JSON text
// frames. Client frames are read and discarded; the read loop exists to
// notice pongs and disconnects. Origin checks are left to the CORS
// middleware in front of the handler.
func WSHandler(hub *Hub, buffer int, logger zerolog.Logger) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		sub := hub.Subscribe(buffer)
		logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket subscriber attached")

		go wsWritePump(conn, sub)
		wsReadPump(conn, sub)
	})
}

func wsReadPump(conn *websocket.Conn, sub *Subscriber) {
	defer sub.Close()
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func wsWritePump(conn *websocket.Conn, sub *Subscriber) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case ev, open := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
