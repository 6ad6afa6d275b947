package main

import (
	"context"

	"github.com/tommy351/reqecho/internal/cmd"
	"github.com/tommy351/reqecho/pkg/config"
	"github.com/tommy351/reqecho/pkg/server"
)

func main() {
	conf := config.MustReadConfig()
	ctx, cancel := cmd.WithSignal(context.Background())
	defer cancel()

	logger := cmd.NewLogger(&conf.Log)
	ctx = logger.WithContext(ctx)

	s, err := server.New(ctx, conf)

	if err != nil {
		logger.Fatal().Stack().Err(err).Msg("Failed to create the server")
	}

	defer s.Close()

	if err := s.Serve(ctx); err != nil {
		logger.Fatal().Stack().Err(err).Msg("Failed to start the server")
	}
}
