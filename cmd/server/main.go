package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/ytakahashi/todo-pwa/internal/config"
	"github.com/ytakahashi/todo-pwa/internal/handlers"
	"github.com/ytakahashi/todo-pwa/internal/livelist"
	"github.com/ytakahashi/todo-pwa/internal/push"
	"github.com/ytakahashi/todo-pwa/internal/services"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	firestoreService, err := services.NewFirestoreService(cfg.ProjectID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Firestore service")
	}
	defer firestoreService.Close()

	storageService, err := services.NewStorageService(ctx, cfg.StorageBucket)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create storage service")
	}
	defer storageService.Close()

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create Firebase app")
	}
	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create messaging client")
	}

	synchronizer := livelist.New(firestoreService, logger)
	synchronizer.Start(ctx)

	fanout := push.NewFanout(messagingClient, firestoreService, cfg.AppURL, cfg.TokenBatchSize, logger)
	fanoutDone := make(chan struct{})
	go func() {
		defer close(fanoutDone)
		fanout.Run(ctx, synchronizer.Created())
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handlers.NewAPIHandler(firestoreService, storageService, synchronizer, logger).Register(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	synchronizer.Close()
	<-fanoutDone
}
