package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guidedimage/guidedimage_server/internal"
	"github.com/guidedimage/guidedimage_server/internal/database"
	"github.com/guidedimage/guidedimage_server/internal/dispenser"
	"github.com/guidedimage/guidedimage_server/internal/feed"
	"github.com/guidedimage/guidedimage_server/internal/health"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/guidedimage/guidedimage_server/internal/middleware"
	"github.com/guidedimage/guidedimage_server/internal/status"
	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", internal.DefaultConfigFile, "path to the YAML config file")
	issueToken := flag.String("issue-token", "", "print a signed upload token for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of tokens printed by -issue-token")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}
	zerolog.SetGlobalLevel(config.LogLevel())

	if *issueToken != "" {
		token, err := middleware.NewAuthMiddleware(config.Auth.JWTSecret).IssueToken(*issueToken, *tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Error issuing token")
			return
		}
		fmt.Fprintln(os.Stdout, token)
		return
	}

	db, err := database.Open(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}
	defer db.Close()

	backend, err := storage.NewBackend(&config.Storage.BackendConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing storage backend")
		return
	}
	log.Info().Str("type", string(config.Storage.Type)).Msg("Storage backend initialized")

	repo := images.NewSQLRepository(db)
	uploader, err := images.NewUploader(
		config.UploaderConfig(),
		repo,
		backend,
		log.Logger.With().Str("component", "uploader").Logger(),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing uploader")
		return
	}

	hub := feed.NewHub()
	go hub.Run()
	defer hub.Stop()
	uploader.AddListener(hub)

	imageDispenser := dispenser.New(config.DispenserConfig(), backend)
	sweeper := dispenser.NewCacheSweeper(imageDispenser, config.Storage.SkimRetentionDays)
	sweeper.Start()
	defer sweeper.Stop()

	requestHandler := internal.NewRequestHandler(config, internal.Handlers{
		Images:    images.NewEndpoints(uploader, repo, backend),
		Dispenser: dispenser.NewEndpoints(imageDispenser, repo),
		Feed:      feed.NewHandler(hub, config.AllowedOrigins),
		Health:    health.NewEndpoints(version, db),
		Status:    status.NewEndpoints(version, repo, hub),
	})

	server := &fasthttp.Server{
		Handler:            requestHandler,
		Name:               "guidedimage",
		MaxRequestBodySize: config.Server.MaxRequestBodySize,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", config.Server.Address).
			Str("prefix", config.Routes.Prefix).
			Bool("auth", config.Auth.JWTSecret != "").
			Msg("Server starting")
		serverErr <- server.ListenAndServe(config.Server.Address)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("Error starting server")
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during shutdown")
		}
	}
}
