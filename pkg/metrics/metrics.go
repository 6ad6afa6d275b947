package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tommy351/reqecho/pkg/echo"
)

const namespace = "reqecho"

// methods are reported under their own label value; anything else is "other".
var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodConnect: {},
	http.MethodTrace:   {},
}

func methodLabel(method string) string {
	if _, ok := methods[method]; ok {
		return method
	}

	return "other"
}

// Collector counts echoed requests. It implements echo.Observer.
type Collector struct {
	requests *prometheus.CounterVec
	bodySize prometheus.Histogram
}

func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of echoed requests by method.",
		}, []string{"method"}),
		bodySize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_body_bytes",
			Help:      "Size of echoed request bodies after decoding.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}

	for _, collector := range []prometheus.Collector{c.requests, c.bodySize} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Collector) Observe(ctx context.Context, id string, res *echo.Response) {
	c.requests.WithLabelValues(methodLabel(res.Method)).Inc()
	c.bodySize.Observe(float64(len(res.Body)))
}

// RegisterGauge exposes a value computed on every scrape.
func RegisterGauge(reg prometheus.Registerer, name, help string, fn func() float64) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
