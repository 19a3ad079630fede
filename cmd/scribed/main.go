// Command scribed runs the meeting transcription pipeline: UDP audio
// ingress, voice activity segmentation, inference dispatch, transcript
// assembly, and the viewer API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"meeting-scribe/internal/app"
	"meeting-scribe/internal/config"
	"meeting-scribe/internal/observability/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(logging.Config{Level: "info", Format: "json"})
		log.Fatal().Err(err).Str("path", *configPath).Msg("load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build pipeline")
	}

	// SIGHUP reloads the configuration. Hot groups apply in place;
	// restart-scoped changes schedule an in-process pipeline restart.
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			next, err := config.Load(*configPath)
			if err != nil {
				log.Error().Err(err).Msg("reload configuration")
				continue
			}
			if err := application.ApplyConfig(next); err != nil {
				log.Warn().Err(err).Msg("configuration not applied")
			}
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Info().Str("signal", s.String()).Msg("shutting down")
		cancel()
	}()

	if err := application.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("pipeline failed")
	}
}
