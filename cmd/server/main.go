// Command server runs the standalone mock payments API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/PaperTiger/server/internal/config"
	"github.com/PaperTiger/server/internal/logger"
	"github.com/PaperTiger/server/pkg/papertiger"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	// Local convenience only; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := bootLog()
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	app, err := papertiger.NewApp(cfg, papertiger.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("assemble server")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("serve")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
		os.Exit(1)
	}
}

// bootLog covers failures before the configured logger exists.
func bootLog() zerolog.Logger {
	return logger.New(logger.Config{Level: "info", Format: "console"})
}
