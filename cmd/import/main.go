package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/Dan9191/microcredit-service/internal/events"
	"github.com/Dan9191/microcredit-service/internal/importer"
	"github.com/Dan9191/microcredit-service/internal/lock"
	"github.com/Dan9191/microcredit-service/internal/repository"
	"github.com/Dan9191/microcredit-service/internal/service"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

func main() {
	file := flag.StringP("file", "f", "", "path to the XML batch file")
	policyName := flag.StringP("recompute", "r", "at_end", "score recomputation policy: each or at_end")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if *file == "" {
		logger.Fatal("--file is required")
	}
	policy, err := service.ParseRecomputePolicy(*policyName)
	if err != nil {
		logger.Fatalf("Invalid --recompute: %v", err)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *file, policy); err != nil {
		logger.Errorf("Import failed: %v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, file string, policy service.RecomputePolicy) error {
	store, closeStore, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := lock.Open(ctx, cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher := events.Connect(cfg.AMQPURL, logger)
	defer publisher.Close()

	svc := service.NewService(store, locker, logger, cfg, service.WithPublisher(publisher))

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	report, err := importer.NewImporter(svc, logger).Import(ctx, f, policy)
	if report != nil {
		json.NewEncoder(os.Stdout).Encode(report)
	}
	return err
}
