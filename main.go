package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"crowd-density/alerting"
	"crowd-density/common/config"
	"crowd-density/common/log"
	"crowd-density/detect"
	"crowd-density/pipeline"
	"crowd-density/service"
	"crowd-density/store"
)

const serviceName = "crowd-density"

func main() {
	configPath := os.Getenv("CROWD_CONFIG")

	settings, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	if err := log.Init(settings.LogLevel, settings.LogFormat, serviceName); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting crowd density monitoring service",
		zap.Int("port", settings.WebPort),
		zap.String("detector_url", settings.DetectorURL))

	for _, dir := range []string{config.UploadImageDir, config.UploadVideoDir, config.ProcessedDir} {
		if err := os.MkdirAll(filepath.Join(settings.DataDir, dir), 0o755); err != nil {
			log.Error("creating data directory", zap.String("dir", dir), zap.Error(err))
			os.Exit(1)
		}
	}
	if err := os.MkdirAll(filepath.Dir(settings.DatabasePath), 0o755); err != nil {
		log.Error("creating database directory", zap.Error(err))
		os.Exit(1)
	}

	ds, err := store.Open(settings.DatabasePath)
	if err != nil {
		log.Error("opening database", zap.String("path", settings.DatabasePath), zap.Error(err))
		os.Exit(1)
	}
	defer ds.Close()

	detector := detect.NewHTTPDetector(detect.Options{
		ServerURL:     settings.DetectorURL,
		ModelType:     settings.DetectorModel,
		Timeout:       settings.DetectorTimeout,
		MinConfidence: settings.MinConfidence,
		MaxFrameEdge:  settings.MaxFrameEdge,
	})

	evaluator := alerting.NewEvaluator(ds, log.L())
	notifier := service.NewPlatformNotifier(settings)

	manager := pipeline.NewManager(settings, ds, detector, evaluator, notifier, log.L())
	manager.Start()

	webServer := service.NewWebServer(settings, ds, manager)
	go func() {
		if err := webServer.Start(); err != nil {
			log.Error("web server stopped", zap.Error(err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("received shutdown signal, stopping")
	manager.Stop()
	log.Info("crowd density monitoring service stopped")
}
