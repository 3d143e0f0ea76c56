package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mindfulbot "github.com/mindfulbot/mindfulbot-web"
	"github.com/mindfulbot/mindfulbot-web/internal/conversation"
	"github.com/mindfulbot/mindfulbot-web/internal/handlers"
	"github.com/mindfulbot/mindfulbot-web/internal/router"
)

func main() {
	cfgPath, err := configPath()
	if err != nil {
		log.Fatal(err)
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	level, err := cfg.logLevel()
	if err != nil {
		log.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	policy, err := cfg.failurePolicy()
	if err != nil {
		log.Fatal(err)
	}

	capability, err := cfg.LLM.capability(logger)
	if err != nil {
		log.Fatal(fmt.Errorf("error creating llm: %w", err))
	}

	conv := conversation.NewController(capability, conversation.Options{
		SystemPrompt:  cfg.SystemPrompt,
		Temperature:   &cfg.Temperature,
		FailurePolicy: policy,
	}, logger)

	// A missing credential leaves the chat without a session; every reply then falls back to the apology
	// until the key is available.
	if err := conv.Initialize(context.Background()); err != nil {
		logger.Warn("Chat session not initialized", slog.String("err", err.Error()))
	}

	nav := router.New(logger,
		router.WithOnEnterChat(conv.SeedWelcome),
		router.WithOnLeaveChat(conv.Reset),
	)

	m, err := handlers.NewMain(conv, nav, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(mindfulbot.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chat/start", m.HandleStartChat)
	mux.HandleFunc("/chat/back", m.HandleBack)
	mux.HandleFunc("/messages", m.HandleMessages)
	mux.HandleFunc("/sse", m.HandleSSE)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port), slog.String("config", cfgPath))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}
