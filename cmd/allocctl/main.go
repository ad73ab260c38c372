package main

import (
	"os"

	"ContraLedger/internal/cli"
	"ContraLedger/internal/observability"

	"github.com/rs/zerolog"
)

func main() {
	root := cli.NewRootCmd()
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		logger := observability.NewLoggerTo(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}, "allocctl", zerolog.InfoLevel)
		logger.Error().Err(err).Msg("allocctl failed")
		os.Exit(1)
	}
}
