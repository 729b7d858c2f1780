package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SSEConfig tunes the event-stream endpoint.
type SSEConfig struct {
	Buffer    int
	Heartbeat time.Duration
}

// SSEHandler streams hub events as text/event-stream frames. Comment
// heartbeats keep idle proxies from cutting the connection; a client
// that stops reading is dropped by the hub.
func SSEHandler(hub *Hub, cfg SSEConfig, logger zerolog.Logger) http.Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		flusher.Flush()

		sub := hub.Subscribe(cfg.Buffer)
		defer sub.Close()
		logger.Debug().Str("remote", r.RemoteAddr).Msg("sse subscriber attached")

		heartbeat := time.NewTicker(cfg.Heartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, open := <-sub.C():
				if !open {
					return
				}
				if err := writeSSE(w, ev); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeSSE(w io.Writer, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Type); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", raw)
	return err
}
