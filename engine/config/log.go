package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var configLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	configLog = zerolog.New(out).With().Timestamp().Str("component", "config").Logger()
}
