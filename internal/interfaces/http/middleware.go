package http

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omenworks/omen/internal/attest"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxModeDecision
)

// ModeHeader carries the requested mode on requests and the effective
// mode on responses.
const (
	ModeHeader        = "X-Omen-Mode"
	ModeReasonsHeader = "X-Omen-Mode-Reasons"
)

// RequestID returns the short id assigned to the request, or "unknown"
// outside the middleware chain.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxRequestID).(string); ok {
		return id
	}
	return "unknown"
}

// ModeFromContext returns the gate's verdict for the request. Outside
// the middleware chain it reports a plain demo decision.
func ModeFromContext(ctx context.Context) attest.ModeDecision {
	if d, ok := ctx.Value(ctxModeDecision).(attest.ModeDecision); ok {
		return d
	}
	return attest.ModeDecision{Requested: attest.ModeDemo, Effective: attest.ModeDemo}
}

// requestIDMiddleware assigns a short unique id to each request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), ctxRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs every request with its status and
// duration.
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.logger.Info().
			Str("request_id", RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// timeoutMiddleware bounds request handling. Streaming routes are
// registered outside this middleware.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows browser access from localhost only.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ModeHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets the JSON content type for API routes.
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// modeMiddleware is the request layer of the live gate. The requested
// mode comes from the X-Omen-Mode header or the mode query parameter;
// the gate decides the effective mode and the response always echoes
// it, with the downgrade reasons when live was refused.
func (s *Server) modeMiddleware(gate *attest.LiveGate) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested := r.Header.Get(ModeHeader)
			if requested == "" {
				requested = r.URL.Query().Get("mode")
			}

			decision := gate.EffectiveMode(r.Context(), attest.ParseMode(requested))
			w.Header().Set(ModeHeader, string(decision.Effective))
			if decision.Downgraded() {
				w.Header().Set(ModeReasonsHeader, strings.Join(decision.Reasons, ","))
				s.logger.Debug().
					Str("request_id", RequestID(r.Context())).
					Strs("reasons", decision.Reasons).
					Msg("live request downgraded to demo")
			}

			ctx := context.WithValue(r.Context(), ctxModeDecision, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// instrumentMiddleware records request counts and latencies per route
// template on the collector's registry.
func instrumentMiddleware(reg *prometheus.Registry) mux.MiddlewareFunc {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omen",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "omen",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method", "route"},
	)
	reg.MustRegister(requests, duration)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			requests.WithLabelValues(r.Method, route, strconv.Itoa(wrapper.statusCode)).Inc()
			duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// responseWrapper captures the status code for logging and metrics.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE streams survive the
// wrapping.
func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack forwards to the underlying writer so WebSocket upgrades
// survive the wrapping.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}
