package server

import (
	"context"
	"os"

	"github.com/ansel1/merry"
	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/admin"
	"github.com/tommy351/reqecho/pkg/clientip"
	"github.com/tommy351/reqecho/pkg/config"
	"github.com/tommy351/reqecho/pkg/echo"
	"github.com/tommy351/reqecho/pkg/history"
	"github.com/tommy351/reqecho/pkg/metrics"
	"github.com/tommy351/reqecho/pkg/registry"
)

// New assembles the echo handler and its collaborators from conf.
func New(ctx context.Context, conf *config.Config) (*Server, error) {
	logger := zerolog.Ctx(ctx)
	hostname, err := os.Hostname()

	if err != nil {
		logger.Warn().Err(err).Msg("Failed to resolve the hostname")
	}

	resolver, err := clientip.New(conf.ClientIP.Source, conf.ClientIP.TrustedProxies)

	if err != nil {
		return nil, err
	}

	s := &Server{
		Config:   conf,
		Hostname: hostname,
	}

	store := history.NewStore(conf.History.Size)
	recorder := &history.Recorder{Store: store}

	if conf.History.Database != "" {
		path, err := homedir.Expand(conf.History.Database)

		if err != nil {
			return nil, merry.Wrap(err)
		}

		if recorder.Database, err = history.OpenSQLite(path, conf.History.Size); err != nil {
			return nil, err
		}

		s.database = recorder.Database
		n, err := recorder.Restore(ctx, conf.History.Size)

		if err != nil {
			logger.Warn().Stack().Err(err).Msg("Failed to restore the history")
		} else {
			logger.Debug().Int("count", n).Str("path", path).Msg("Restored history")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector, err := metrics.NewCollector(reg)

	if err != nil {
		s.Close()
		return nil, merry.Wrap(err)
	}

	if err := metrics.RegisterGauge(reg, "history_entries", "Number of requests kept in the history.", func() float64 {
		return float64(store.Len())
	}); err != nil {
		s.Close()
		return nil, merry.Wrap(err)
	}

	s.Handler = &echo.Handler{
		Hostname:  hostname,
		Resolver:  resolver,
		Observers: []echo.Observer{recorder, collector},
	}
	s.Admin = admin.NewServer(store, reg, conf.Admin.RateLimit, conf.Admin.Burst)

	if conf.Registry.Enabled {
		if s.Registry, err = registry.NewNacos(&conf.Registry); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}
