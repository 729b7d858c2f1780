package stream

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	srv := httptest.NewServer(SSEHandler(hub, SSEConfig{}, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	hub.Broadcast(EventSignal, map[string]string{"signal_id": "OMEN-LIVE1A2B3C"})

	var eventLine, dataLine string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "event: signal", eventLine)
	assert.Contains(t, dataLine, "OMEN-LIVE1A2B3C")
}

func TestSSEHandler_DetachesOnClientDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	srv := httptest.NewServer(SSEHandler(hub, SSEConfig{Heartbeat: 20 * time.Millisecond}, zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	resp.Body.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_DeliversJSONFrames(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	srv := httptest.NewServer(WSHandler(hub, 8, zerolog.Nop()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	hub.Broadcast(EventHealth, map[string]string{"status": "healthy"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, EventHealth, ev.Type)
	assert.JSONEq(t, `{"status":"healthy"}`, string(ev.Data))
}

func TestWSHandler_DetachesOnClientClose(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	defer hub.Close()
	srv := httptest.NewServer(WSHandler(hub, 8, zerolog.Nop()))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}
