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

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/Dan9191/microcredit-service/internal/events"
	"github.com/Dan9191/microcredit-service/internal/handler"
	"github.com/Dan9191/microcredit-service/internal/lock"
	"github.com/Dan9191/microcredit-service/internal/middleware"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/scheduler"
	"github.com/Dan9191/microcredit-service/internal/service"
	"github.com/Dan9191/microcredit-service/internal/utils/email"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage and collaborators
	store, closeStore, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	defer closeStore()

	locker, closeLocker, err := lock.Open(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	defer closeLocker()

	publisher := events.Connect(cfg.AMQPURL, logger)
	defer publisher.Close()

	mailer := email.NewSender(cfg, logger)

	// Initialize layers
	svc := service.NewService(store, locker, logger, cfg,
		service.WithPublisher(publisher), service.WithNotifier(mailer))
	h := handler.NewHandler(svc, logger)

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(logger))
	// Public routes
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	h.Register(authRouter)

	// Start scheduled jobs
	sched := scheduler.NewScheduler(scheduler.NewJobs(svc, mailer, logger, cfg), logger, cfg)
	if err := sched.Register(); err != nil {
		logger.Fatalf("Failed to register jobs: %v", err)
	}
	sched.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("Scheduled jobs did not finish before shutdown")
	}
}
