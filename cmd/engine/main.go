package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/archplay/chuangcut-engine/internal/ai"
	"github.com/archplay/chuangcut-engine/internal/api"
	"github.com/archplay/chuangcut-engine/internal/config"
	"github.com/archplay/chuangcut-engine/internal/db"
	"github.com/archplay/chuangcut-engine/internal/logging"
	"github.com/archplay/chuangcut-engine/internal/media"
	"github.com/archplay/chuangcut-engine/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting chuangcut engine",
		"version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := workflow.NewRepository(database.Conn())

	engineID, err := ensureEngineID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure engine ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                  CHUANGCUT ENGINE v0.1.0                  ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Engine ID:  %-45s ║\n", engineID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	var analyzer ai.Analyzer
	var synth ai.Synthesizer
	if cfg.AIBaseURL() != "" && cfg.AIToken() != "" {
		httpClient := ai.NewHTTPClient(ai.HTTPClientConfig{
			BaseURL: cfg.AIBaseURL(),
			Token:   cfg.AIToken(),
			Logger:  logging.WithComponent(logger, "ai"),
		})
		analyzer = httpClient
		synth = httpClient
		logger.Info("ai services configured", "base_url", cfg.AIBaseURL())
	} else {
		logger.Warn("ai services not configured, using stubs")
		analyzer = ai.NewStubAnalyzer(logging.WithComponent(logger, "ai"))
		synth = ai.NewStubSynthesizer(logging.WithComponent(logger, "ai"))
	}

	var mediaClient media.Client
	if cfg.MediaBaseURL() != "" && cfg.MediaToken() != "" {
		mediaClient = media.NewHTTPClient(media.HTTPClientConfig{
			BaseURL: cfg.MediaBaseURL(),
			Token:   cfg.MediaToken(),
			Logger:  logging.WithComponent(logger, "media"),
		})
		logger.Info("media toolkit configured", "base_url", cfg.MediaBaseURL())
	} else {
		logger.Warn("media toolkit not configured, using stub")
		mediaClient = media.NewStubClient(logging.WithComponent(logger, "media"))
	}

	registry := workflow.NewRegistry()
	history := workflow.NewHistoryRecorder(repo, registry, logging.WithComponent(logger, "history"))
	state := workflow.NewStateManager(repo, logging.WithComponent(logger, "state"))
	locks := workflow.NewLockService(repo, engineID, cfg.LockTTL(), logging.WithComponent(logger, "locks"))

	scenes := workflow.NewSceneController(workflow.SceneControllerConfig{
		Repo:        repo,
		History:     history,
		State:       state,
		Synthesizer: synth,
		Media:       mediaClient,
		Concurrency: cfg.SceneConcurrency(),
		MaxAttempts: cfg.MaxAttempts(),
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
		Voice:       cfg.Voice(),
		Logger:      logging.WithComponent(logger, "scenes"),
	})

	machine := workflow.NewMachine(workflow.MachineConfig{
		Repo:        repo,
		Registry:    registry,
		History:     history,
		State:       state,
		Locks:       locks,
		Analyzer:    analyzer,
		Media:       mediaClient,
		Scenes:      scenes,
		MaxAttempts: cfg.MaxAttempts(),
		BackoffBase: cfg.BackoffBase(),
		BackoffMax:  cfg.BackoffMax(),
		Logger:      logging.WithComponent(logger, "machine"),
	})

	service := workflow.NewService(repo, registry, machine, state, logging.WithComponent(logger, "service"))
	poller := workflow.NewPoller(repo, machine, cfg.PollInterval(), logging.WithComponent(logger, "poller"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:       cfg.Port(),
		Service:    service,
		Repository: repo,
		Poller:     poller,
		Logger:     logging.WithComponent(logger, "api"),
		StartTime:  startTime,
		EngineID:   engineID,
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig)

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func ensureEngineID(repo workflow.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "engine_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	engineID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "engine_id", engineID); err != nil {
		return "", err
	}

	return engineID, nil
}

func ensureAuthToken(repo workflow.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "auth_token")
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, "auth_token", token); err != nil {
		return "", err
	}

	return token, nil
}
