package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/voicegate/voicegate/adapters/device"
	"github.com/voicegate/voicegate/adapters/playback"
	"github.com/voicegate/voicegate/adapters/profile"
	"github.com/voicegate/voicegate/adapters/settings"
	"github.com/voicegate/voicegate/adapters/transcribe"
	"github.com/voicegate/voicegate/domain/repositories"
	"github.com/voicegate/voicegate/internal/api"
	"github.com/voicegate/voicegate/internal/assist"
	"github.com/voicegate/voicegate/internal/auth"
	"github.com/voicegate/voicegate/internal/config"
	"github.com/voicegate/voicegate/internal/forward"
	"github.com/voicegate/voicegate/internal/verify"
	"github.com/voicegate/voicegate/internal/websocket"
	"github.com/voicegate/voicegate/usecase"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	tokens, err := auth.NewManager(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("failed to initialize auth", zap.Error(err))
	}

	profiles, err := profile.NewDirStore(cfg.ProfileDir)
	if err != nil {
		logger.Fatal("failed to open profile store", zap.Error(err))
	}

	settingsStore, err := settings.Open(cfg.SettingsDir)
	if err != nil {
		logger.Fatal("failed to open settings store", zap.Error(err))
	}
	defer settingsStore.Close()

	model, err := verify.NewFbankModel(verify.DefaultFbankConfig())
	if err != nil {
		logger.Fatal("failed to build speaker model", zap.Error(err))
	}
	defer model.Close()

	var captureDevice repositories.CaptureDevice
	if cfg.AudioSource == "tone" {
		captureDevice = &device.ToneDevice{}
	} else {
		captureDevice = &device.FileDevice{Path: cfg.AudioSource}
	}

	var transcription repositories.TranscriptionService
	if cfg.MockTranscription {
		transcription = transcribe.NewMockTranscription(logger)
	} else {
		transcription = transcribe.NewGoogleTranscription(logger)
	}

	var assistDialer assist.Dialer
	if cfg.AssistURL != "" {
		assistDialer = &assist.WebsocketDialer{
			URL:   cfg.AssistURL,
			Token: cfg.AssistToken,
		}
	}

	forwardCfg := forward.DefaultConfig()
	forwardCfg.Language = cfg.Language

	assistCfg := assist.DefaultConfig()
	assistCfg.HeartbeatInterval = cfg.HeartbeatInterval
	assistCfg.IdleTimeout = cfg.IdleTimeout

	hub := websocket.NewHub(logger)
	go hub.Run()

	pipeline, err := usecase.NewPipelineService(usecase.Deps{
		Device:        captureDevice,
		Playback:      playback.NewWriterSink(io.Discard),
		Transcription: transcription,
		Profiles:      profiles,
		Settings:      settingsStore,
		Model:         model,
		ForwardConfig: forwardCfg,
		AssistConfig:  assistCfg,
		AssistDialer:  assistDialer,
		Hub:           hub,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, pipeline, hub, tokens, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()
	logger.Info("voicegate started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("server is shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
