package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/approval"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/eventbus"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/health"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func main() {
	log.Printf("Approver starting...")

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

	machine := approval.NewMachine(store.NewRecordStore(db), auditor).
		WithAutoApproveLow(cfg.AutoApproveLow).
		WithDefaultTimeout(cfg.ApprovalTimeout)

	if publisher, err := eventbus.NewPublisher(cfg.NatsURL); err != nil {
		log.Printf("Warning: NATS unavailable, status events disabled: %v", err)
	} else {
		defer publisher.Close()
		machine = machine.WithPublisher(publisher)
	}

	// Operator decisions arrive over the bus and are staged onto the pending
	// record; the poll below turns them into transitions.
	subscriber, err := eventbus.NewSubscriber(cfg.NatsURL, machine)
	if err != nil {
		log.Printf("Warning: NATS unavailable, operator decisions disabled: %v", err)
	} else {
		defer subscriber.Close()
		if err := subscriber.Start(); err != nil {
			log.Fatalf("Failed to subscribe to decision subjects: %v", err)
		}
	}

	health.StartHealthCheckServer("approver", cfg.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received...")
		cancel()
	}()

	log.Printf("Approver polling every %s", cfg.ApprovalPollInterval)
	if err := pollLoop(ctx, machine, cfg.ApprovalPollInterval); err != nil && err != context.Canceled {
		log.Fatalf("Approver error: %v", err)
	}

	log.Printf("Approver stopped successfully")
}

func pollLoop(ctx context.Context, machine *approval.Machine, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := machine.Poll(ctx); err != nil && err != context.Canceled {
				log.Printf("Approval poll failed: %v", err)
			}
		}
	}
}
