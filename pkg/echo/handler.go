package echo

import (
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/clientip"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Observer is notified after a response has been written.
type Observer interface {
	Observe(ctx context.Context, id string, res *Response)
}

type ObserverFunc func(ctx context.Context, id string, res *Response)

func (f ObserverFunc) Observe(ctx context.Context, id string, res *Response) {
	f(ctx, id, res)
}

// Handler answers every request with a JSON description of the request.
type Handler struct {
	// Hostname of the serving host, resolved once at startup.
	Hostname  string
	Resolver  clientip.Resolver
	Observers []Observer
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	body, err := io.ReadAll(r.Body)

	if err != nil {
		logger.Debug().Err(err).Msg("Failed to read the request body")
	}

	res := h.NewResponse(r, body)
	id := uuid.New().String()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", id)
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(res); err != nil {
		logger.Debug().Err(err).Msg("Failed to write the response")
	}

	for _, o := range h.Observers {
		o.Observe(r.Context(), id, res)
	}

	logger.Debug().
		Str("id", id).
		Str("method", res.Method).
		Str("path", res.Path).
		Str("ip", res.IP).
		Int("bodySize", len(body)).
		Msg("Echoed request")
}

// NewResponse describes r. body is the raw request body; r.Body is not read.
func (h *Handler) NewResponse(r *http.Request, body []byte) *Response {
	return &Response{
		Path:     requestPath(r),
		Headers:  headerPairs(r),
		Method:   r.Method,
		Body:     decodeBody(body),
		Cookies:  cookiePairs(r),
		Hostname: r.URL.Hostname(),
		IP:       h.clientIP(r),
		Protocol: r.URL.Scheme,
		Query:    r.URL.RawQuery,
		OS: OS{
			Hostname: h.Hostname,
		},
	}
}

func (h *Handler) clientIP(r *http.Request) string {
	resolver := h.Resolver

	if resolver == nil {
		resolver = clientip.ResolverFunc(clientip.PeerIP)
	}

	if ip := resolver.Resolve(r); ip != nil {
		return ip.String()
	}

	return ""
}
