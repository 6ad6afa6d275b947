// Package admin serves the console listener: health, metrics and the
// history of echoed requests.
package admin

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/history"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const writeTimeout = 10 * time.Second

type Server struct {
	Store    *history.Store
	Gatherer prometheus.Gatherer

	// Limiter throttles every admin request when set.
	Limiter *rate.Limiter

	upgrader  websocket.Upgrader
	closeOnce sync.Once
	quit      chan struct{}
}

func NewServer(store *history.Store, gatherer prometheus.Gatherer, limit float64, burst int) *Server {
	s := &Server{
		Store:    store,
		Gatherer: gatherer,
		quit:     make(chan struct{}),
	}

	if limit > 0 {
		if burst < 1 {
			burst = 1
		}

		s.Limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}

	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /requests", s.handleList)
	mux.HandleFunc("GET /requests/{id}", s.handleGet)
	mux.HandleFunc("GET /stream", s.handleStream)

	return s.limit(mux)
}

// Close ends open streams. Hijacked connections are not closed by
// http.Server.Shutdown.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.quit != nil {
			close(s.quit)
		}
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil && !s.Limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries := s.Store.All()

	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, r, http.StatusOK, entries)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.Store.Get(r.PathValue("id"))

	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, r, http.StatusOK, entry)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)

	if err != nil {
		logger.Debug().Err(err).Msg("Failed to upgrade the connection")
		return
	}

	defer conn.Close()

	ch, cancel := s.Store.Subscribe()
	defer cancel()

	closed := make(chan struct{})

	// Drain control frames and notice when the peer goes away.
	go func() {
		defer close(closed)

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeTimeout))
			return

		case <-closed:
			return

		case entry, ok := <-ch:
			if !ok {
				return
			}

			data, err := json.Marshal(entry)

			if err != nil {
				logger.Error().Err(err).Msg("Failed to encode the entry")
				continue
			}

			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug().Err(err).Msg("Failed to write to the stream")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write the response")
	}
}
