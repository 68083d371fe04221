package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"tripcraft-pipeline/internal/config"
	"tripcraft-pipeline/internal/handlers"
	"tripcraft-pipeline/internal/pkg/logger"
	"tripcraft-pipeline/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting trip planning pipeline", "environment", cfg.Environment)

	redisService, err := services.NewRedisService(cfg.Redis, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize Redis service")
		os.Exit(1)
	}
	defer redisService.Close()

	flightService, err := services.NewFlightService(cfg.Search, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize flight service")
		os.Exit(1)
	}

	hotelService, err := services.NewHotelService(cfg.Search, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize hotel service")
		os.Exit(1)
	}

	geminiService, err := services.NewGeminiService(cfg.Gemini, log)
	if err != nil {
		log.WithError(err).Error("failed to initialize Gemini service")
		os.Exit(1)
	}
	defer geminiService.Close()

	resolver := services.NewAirportResolver(log)
	itineraryService := services.NewItineraryService(geminiService, log)
	rendererService := services.NewRendererService(log)

	orchestrator := services.NewOrchestrator(
		resolver,
		flightService,
		hotelService,
		itineraryService,
		rendererService,
		redisService,
		*cfg,
		log,
	)
	defer orchestrator.Close()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	handler := handlers.NewTripHandler(orchestrator, log)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("HTTP server listening", "port", cfg.HTTP.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}

	log.Info("server stopped")
}
