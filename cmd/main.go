package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CoopLedger/internal/appmanager"
	"CoopLedger/internal/archive"
	"CoopLedger/internal/audit"
	"CoopLedger/internal/config"
	"CoopLedger/internal/dashboard"
	"CoopLedger/internal/events/kafka"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/reconcile"
	"CoopLedger/internal/resource"
	"CoopLedger/internal/storage/postgres"
)

func main() {
	// Load .env for local dev
	cfg := config.Load(".env", "../.env")
	ctx := context.Background()

	pool, err := postgres.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}
	defer pool.Close()

	auditDB, err := audit.InitDB(cfg.DB.DSN())
	if err != nil {
		log.Fatal("failed to open audit DB:", err)
	}
	defer auditDB.Close()

	servicesCfg, err := appmanager.LoadServiceSequence(cfg.ServicesFile)
	if err != nil {
		log.Fatal("failed to load service sequence:", err)
	}

	hub := dashboard.NewProgressHub(30 * time.Second)
	defer hub.Stop()
	publishers := reconcile.FanOut{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()
		publishers = append(publishers, pub)
		log.Printf("[INFO] publishing batch events to %s on %v", cfg.Kafka.Topic, cfg.Kafka.Brokers)
	}

	resources := resource.NewResourceManagerService(appmanager.ConfigFor(servicesCfg, "resourcemanager"))
	engine := reconcile.NewEngine(postgres.NewStore(pool),
		reconcile.WithProgress(hub),
		reconcile.WithAudit(audit.NewLog(auditDB)),
		reconcile.WithPublisher(publishers),
		reconcile.WithPeriodLocker(resources),
	)

	var archiver intake.Archiver
	if cfg.Archive.Enabled {
		s3Archive, err := archive.NewS3Archive(ctx, cfg.Archive)
		if err != nil {
			log.Fatal("failed to configure upload archive:", err)
		}
		archiver = s3Archive
		log.Printf("[INFO] archiving uploads to s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
	}

	manager := appmanager.NewAppManager()
	manager.AutoRegisterServices(servicesCfg, appmanager.Deps{
		Config:    cfg,
		Intake:    intake.New(engine, archiver),
		Hub:       hub,
		Resources: resources,
	})

	if err := manager.StartAll(); err != nil {
		log.Fatal("failed to start:", err)
	}

	// Graceful shutdown handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	if err := manager.StopAll(); err != nil {
		log.Println("[ERROR] failed to stop:", err)
	}
}
