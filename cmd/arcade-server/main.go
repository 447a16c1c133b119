package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/reviewarcade/server/internal/auth"
	"github.com/reviewarcade/server/internal/config"
	"github.com/reviewarcade/server/internal/events"
	"github.com/reviewarcade/server/internal/monitoring"
	"github.com/reviewarcade/server/internal/server"
	"github.com/reviewarcade/server/internal/store"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides ARCADE_LOG_LEVEL)")
	flag.Parse()

	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(&bootstrap)
	if err != nil {
		bootstrap.Fatal().Err(err).Msg("load configuration failed")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := monitoring.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting review arcade server")
	cfg.LogConfig(logger)

	st := store.NewMemory()
	if cfg.BanksFile != "" {
		banks, err := store.LoadBanksFile(cfg.BanksFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.BanksFile).Msg("load question banks failed")
		}
		for _, bank := range banks {
			if err := st.AddBank(context.Background(), bank); err != nil {
				logger.Fatal().Err(err).Str("bank", bank.ID).Msg("register question bank failed")
			}
		}
		logger.Info().Int("banks", len(banks)).Msg("question banks loaded")
	}

	var pub events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		natsPub, err := events.NewNATS(cfg.NATSURL, cfg.NATSName, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect failed")
		}
		pub = natsPub
	}
	defer pub.Close()

	var publicKey []byte
	if cfg.JWTPublicKeyFile != "" {
		publicKey, err = os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			logger.Fatal().Err(err).Str("file", cfg.JWTPublicKeyFile).Msg("read jwt public key failed")
		}
	}
	authMgr, err := auth.NewManager(cfg.JWTSecret, publicKey, cfg.JWTIssuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure auth failed")
	}

	srv := server.New(cfg, logger, st, pub, authMgr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	logger.Info().Msg("server stopped")
}
