package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/approval"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/eventbus"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/health"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/ingest"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func main() {
	log.Printf("Ingestor starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if len(os.Args) > 1 {
		cfg.WorkspaceRoot = os.Args[1]
	}

	db, err := store.Open(cfg.WorkspaceRoot)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	auditor, err := audit.NewLogger(cfg.WorkspaceRoot + "/audit")
	if err != nil {
		log.Fatalf("Failed to open audit log: %v", err)
	}

	source, err := ingest.NewSource(cfg.SourceKind, cfg.SourceDSN)
	if err != nil {
		log.Fatalf("Failed to create source: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := source.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect source: %v", err)
	}
	defer source.Close()
	if err := source.HealthCheck(ctx); err != nil {
		log.Fatalf("Source unhealthy: %v", err)
	}
	log.Printf("Source connected (%s)", source.Name())

	deduper := buildDeduper(cfg)

	machine := approval.NewMachine(store.NewRecordStore(db), auditor).
		WithAutoApproveLow(cfg.AutoApproveLow).
		WithDefaultTimeout(cfg.ApprovalTimeout)

	ingestor := ingest.NewIngestor(source, deduper, machine, ingest.Options{
		PollInterval:     cfg.PollInterval,
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
	}).WithAuditor(auditor)

	// The alert publisher is optional: without NATS the ingestor still
	// ingests, it just cannot announce cooldowns.
	if publisher, err := eventbus.NewPublisher(cfg.NatsURL); err != nil {
		log.Printf("Warning: NATS unavailable, cooldown alerts disabled: %v", err)
	} else {
		defer publisher.Close()
		ingestor = ingestor.WithPublisher(publisher)
	}

	health.StartHealthCheckServer("ingestor", cfg.HealthPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received...")
		cancel()
	}()

	if err := ingestor.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Ingestor error: %v", err)
	}

	log.Printf("Ingestor stopped successfully")
}

func buildDeduper(cfg *config.Config) ingest.Deduper {
	if cfg.RedisAddr == "" {
		return ingest.NewMemoryDeduper(cfg.DedupCacheMax, cfg.DedupTTL)
	}
	deduper, err := ingest.NewRedisDeduper(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.DedupTTL)
	if err != nil {
		log.Printf("Warning: Redis unavailable, falling back to in-memory dedup: %v", err)
		return ingest.NewMemoryDeduper(cfg.DedupCacheMax, cfg.DedupTTL)
	}
	return deduper
}
