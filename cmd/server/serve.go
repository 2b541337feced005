package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"facewatch/config"
	"facewatch/internal/api"
	"facewatch/internal/api/handlers"
	"facewatch/internal/cleanup"
	"facewatch/internal/core/models"
	"facewatch/internal/core/processor"
	"facewatch/internal/db"
	"facewatch/internal/db/repository"
	"facewatch/internal/identity"
	"facewatch/internal/integrations/facerecognition"
	"facewatch/internal/integrations/frigate"
	"facewatch/internal/integrations/mqtt"
	"facewatch/internal/integrations/opencv"
	"facewatch/internal/integrations/provider"
	"facewatch/internal/livefeed"
	"facewatch/internal/logger"
	"facewatch/internal/matcher"
	"facewatch/internal/metrics"
	"facewatch/internal/security"
	"facewatch/internal/server/alerts"
	"facewatch/internal/storage"
	"facewatch/internal/tracking"

	log "github.com/sirupsen/logrus"
)

func runServer(ctx context.Context, cfg *config.Config) error {
	closeLog, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer closeLog()

	log.Info("Initializing database...")
	conn, err := db.Initialize(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	repo := repository.NewGormRepository(conn)

	cipher, err := security.NewEmbeddingCipher(cfg.Security.EmbeddingKey)
	if err != nil {
		return fmt.Errorf("invalid security.embedding_key (create one with 'facewatch gen-key'): %w", err)
	}

	if err := bootstrapAdmin(ctx, cfg, repo); err != nil {
		log.WithError(err).Warn("Failed to create initial admin account")
	}

	m := metrics.New()

	identities := identity.NewCache(identity.NewStoreLoader(repo, cipher))
	identities.OnRefresh(func(count int) { m.IdentitiesCached.Set(float64(count)) })
	if err := identities.Refresh(ctx); err != nil {
		log.WithError(err).Warn("Initial identity load failed, workers will retry")
	}
	go identities.Run(ctx, cfg.Recognition.IdentityRefreshInterval)

	// der Hub lebt bis nach dem Stopp der Worker
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := alerts.NewHub(cfg.Alerts.QueueSize, cfg.Alerts.SubscriberBuffer)
	go hub.Run(hubCtx)
	m.RegisterGaugeFunc("facewatch_alert_subscribers", "Connected alert subscribers", func() float64 {
		return float64(hub.SubscriberCount())
	})

	frames := livefeed.NewBuffer()
	snapshots := storage.NewSnapshotStore(cfg.Server.SnapshotDir, cfg.Server.SnapshotURL)

	detector, err := provider.CreateDetector(cfg)
	if err != nil {
		return err
	}
	if !detector.IsAvailable(ctx) {
		log.Warn("Face detection backend not reachable yet, frames will be skipped until it is")
	}

	supervisor := processor.NewSupervisor(context.Background(), newWorkerFactory(cfg, workerDeps{
		detector:   detector,
		identities: identities,
		frames:     frames,
		hub:        hub,
		repo:       repo,
		snapshots:  snapshots,
		metrics:    m,
	}))
	supervisor.OnStop(func(cameraID string) {
		frames.Delete(cameraID)
		m.ForgetCamera(cameraID)
	})

	started, err := supervisor.StartAll(ctx, repo)
	if err != nil {
		log.WithError(err).Error("Failed to start registered cameras")
	} else {
		log.Infof("Started %d camera workers", started)
	}

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(cfg.MQTT)
		if err := client.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
		} else {
			defer client.Stop()
			go mqtt.NewForwarder(hub, client, cfg.MQTT.Topic).Run(hubCtx)
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	cleanupService := cleanup.NewService(repo, snapshots, cfg.Cleanup.RetentionDays, cfg.Cleanup.Interval)
	cleanupService.StartBackgroundCleanup()

	handler, err := handlers.NewHandler(handlers.Deps{
		Config:     cfg,
		Repo:       repo,
		Supervisor: supervisor,
		Identities: identities,
		Embedder:   detector,
		Cipher:     cipher,
		Frames:     frames,
		Snapshots:  snapshots,
		Hub:        hub,
		Metrics:    m,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize handlers: %w", err)
	}
	server, err := api.NewServer(cfg, handler)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	supervisor.StopAll()
	cleanupService.StopBackgroundCleanup()
	stopHub()

	log.Info("Server stopped.")
	return nil
}

type workerDeps struct {
	detector   facerecognition.Detector
	identities *identity.Cache
	frames     *livefeed.Buffer
	hub        *alerts.Hub
	repo       repository.Repository
	snapshots  *storage.SnapshotStore
	metrics    *metrics.Metrics
}

// newWorkerFactory baut pro Kamera Quelle, Tracker und Alarm-Policy neu auf
func newWorkerFactory(cfg *config.Config, d workerDeps) processor.WorkerFactory {
	match := matcher.New(cfg.Recognition.SimilarityThreshold)
	workerCfg := processor.NewWorkerConfig(cfg)

	return func(camera models.Camera) (*processor.CameraWorker, error) {
		if strings.TrimSpace(camera.SourceURI) == "" {
			return nil, fmt.Errorf("camera %s has no source uri", camera.ID)
		}
		policy, err := processor.NewAlertPolicy(cfg.Alerts)
		if err != nil {
			return nil, err
		}
		analyzer := facerecognition.NewAnalyzer(d.detector, tracking.NewIOUTracker(cfg.Tracker))

		return processor.NewCameraWorker(camera, newFrameSource(cfg, camera.SourceURI), analyzer, policy, processor.Deps{
			Identities: d.identities,
			Matcher:    match,
			Frames:     d.frames,
			Alerts:     d.hub,
			Detections: d.repo,
			Snapshots:  d.snapshots,
			Metrics:    d.metrics,
			Config:     workerCfg,
		}), nil
	}
}

// newFrameSource wählt anhand der URI zwischen HTTP-Snapshots und OpenCV
func newFrameSource(cfg *config.Config, uri string) processor.FrameSource {
	if snapshotURL, ok := frigate.SnapshotURL(uri); ok {
		return frigate.NewSnapshotSource(snapshotURL, cfg.Camera.SnapshotInterval, cfg.Camera.ReadTimeout)
	}
	return opencv.NewCapture(uri, cfg.Camera.JPEGQuality)
}

// bootstrapAdmin legt beim ersten Start ein Admin-Konto aus der Konfiguration an
func bootstrapAdmin(ctx context.Context, cfg *config.Config, repo repository.Repository) error {
	if !cfg.Auth.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := repo.CountUsers(ctx)
	if err != nil || count > 0 {
		return err
	}
	if cfg.Auth.AdminPassword == "" {
		log.Warn("No users exist and auth.admin_password is empty; create an account with 'facewatch create-user'")
		return nil
	}
	if err := createUser(ctx, repo, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, models.RoleAdmin); err != nil {
		return err
	}
	log.Infof("Created initial admin account %s", cfg.Auth.AdminEmail)
	return nil
}
