package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"kis-quote-gateway/internal/kis"
	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/metrics"
	"kis-quote-gateway/internal/quote"
	"kis-quote-gateway/internal/types"
)

// codePattern matches 6-character Korean instrument codes ("005930",
// preferred-share suffixes like "00088K").
var codePattern = regexp.MustCompile(`^[A-Za-z0-9]{6}$`)

var upgrader = websocket.Upgrader{
	// Browser origins were already vetted by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// errorBody is the wire shape for all error responses.
type errorBody struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto the HTTP surface: caller mistakes
// become 400, upstream failures 502 with the upstream detail in the
// body, configuration problems 500.
func writeError(w http.ResponseWriter, err error) {
	var vErr *quote.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, errorBody{
			StatusCode: http.StatusBadRequest,
			Message:    vErr.Message,
		})
		return
	}

	var cfgErr *kis.ConfigError
	if errors.As(err, &cfgErr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{
			StatusCode: http.StatusInternalServerError,
			Message:    cfgErr.Message,
		})
		return
	}

	var apiErr *kis.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, http.StatusBadGateway, errorBody{
			StatusCode: apiErr.Status,
			Code:       apiErr.Code,
			Message:    apiErr.Message,
		})
		return
	}

	writeJSON(w, http.StatusBadGateway, errorBody{
		StatusCode: kis.StatusOf(err),
		Message:    err.Error(),
	})
}

func validCode(w http.ResponseWriter, code string) bool {
	if codePattern.MatchString(code) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{
		StatusCode: http.StatusBadRequest,
		Message:    "code must be 6 alphanumeric characters",
	})
	return false
}

// clientIP identifies the caller for bypass cooldown accounting.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validCode(w, code) {
		return
	}

	ov, err := s.svc.Overview(r.Context(), code)
	if err != nil {
		logger.ErrorWithErr(r.Context(), "overview lookup failed", err, "code", code)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if !validCode(w, code) {
		return
	}

	q := r.URL.Query()
	rng := q.Get("range")
	if rng == "" {
		rng = "1d"
	}
	bypass := q.Get("fresh") == "1"

	series, err := s.svc.Series(r.Context(), clientIP(r), code, rng, q.Get("from"), q.Get("to"), bypass)
	if err != nil {
		var vErr *quote.ValidationError
		if !errors.As(err, &vErr) {
			logger.ErrorWithErr(r.Context(), "series lookup failed", err, "code", code, "range", rng)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// handleStream upgrades to WebSocket and forwards real-time ticks until
// the client disconnects. The upstream stream runs in its own goroutine
// and is awaited before the handler returns, so no feed outlives its
// consumer.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if !validCode(w, code) {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ticks := make(chan types.Tick, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.stream.Stream(ctx, code, ticks)
	}()

	// The read loop exists only to observe the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	logger.Info(ctx, "tick stream opened", "code", code, "client", clientIP(r))
	for {
		select {
		case tick := <-ticks:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(tick); err != nil {
				cancel()
				<-done
				return
			}
		case err := <-done:
			if err != nil {
				logger.ErrorWithErr(ctx, "tick stream failed", err, "code", code)
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				conn.WriteJSON(errorBody{
					StatusCode: kis.StatusOf(err),
					Message:    err.Error(),
				})
			}
			return
		case <-ctx.Done():
			<-done
			return
		}
	}
}
