package cmd

import (
	"io"
	"os"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog"
	"github.com/tommy351/reqecho/pkg/config"
)

func init() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		return merry.Stacktrace(err)
	}
}

func NewLogger(conf *config.LogConfig) *zerolog.Logger {
	return newLogger(os.Stderr, conf)
}

func newLogger(w io.Writer, conf *config.LogConfig) *zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)

	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if conf.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &logger
}
