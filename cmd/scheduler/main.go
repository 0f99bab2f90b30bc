package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/health"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/scheduler"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func main() {
	log.Printf("Scheduler starting...")

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

	records := store.NewRecordStore(db)
	dlq := store.NewDeadLetterQueue(db)

	sched := scheduler.New(store.NewScheduleStore(db))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedule := func(id string, fn scheduler.TaskFunc, stype string, scfg scheduler.Config) {
		if err := sched.ScheduleTask(ctx, id, fn, stype, scfg); err != nil {
			log.Fatalf("Failed to schedule %s: %v", id, err)
		}
	}

	schedule("audit-retention", func(ctx context.Context) error {
		removed, err := auditor.Cleanup(cfg.AuditRetention)
		if err != nil {
			return err
		}
		if removed > 0 {
			log.Printf("Audit retention removed %d day files", removed)
		}
		return nil
	}, scheduler.TypeDaily, scheduler.Config{At: "03:00"})

	schedule("dlq-report", func(ctx context.Context) error {
		depth, err := dlq.Depth(ctx)
		if err != nil {
			return err
		}
		if depth > 0 {
			log.Printf("Dead-letter queue depth: %d", depth)
		}
		return nil
	}, scheduler.TypeInterval, scheduler.Config{Every: 5 * time.Minute})

	schedule("pipeline-report", func(ctx context.Context) error {
		counts, err := records.CountByStatus(ctx)
		if err != nil {
			return err
		}
		for _, status := range []string{models.StatusPending, models.StatusApproved, models.StatusQuarantined} {
			if counts[status] > 0 {
				log.Printf("Pipeline: %d records %s", counts[status], status)
			}
		}
		return nil
	}, scheduler.TypeInterval, scheduler.Config{Every: time.Minute})

	health.StartHealthCheckServer("scheduler", cfg.HealthPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received...")
		cancel()
	}()

	if err := sched.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Scheduler error: %v", err)
	}

	stats := sched.GetStats()
	log.Printf("Scheduler stopped successfully (%d tasks, %d runs, %d errors)", stats.Tasks, stats.TotalRuns, stats.TotalErrors)
}
