package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/health"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/supervisor"
)

// The components the supervisor keeps alive. Each binary takes the workspace
// root as its first argument.
var components = []string{"ingestor", "approver", "executor", "scheduler"}

const stopTimeout = 30 * time.Second

func main() {
	log.Printf("Supervisor starting...")

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

	binDir := os.Getenv("SUPERVISED_BIN_DIR")
	if binDir == "" {
		binDir = filepath.Dir(os.Args[0])
	}

	sup := supervisor.New(store.NewProcessStore(db))
	for _, name := range components {
		err := sup.AddProcess(supervisor.ProcessSpec{
			Name:             name,
			Command:          filepath.Join(binDir, name),
			Args:             []string{cfg.WorkspaceRoot},
			MaxRestarts:      cfg.MaxRestarts,
			RestartWindow:    cfg.RestartWindow,
			RestartOnFailure: true,
		})
		if err != nil {
			log.Fatalf("Failed to add process %s: %v", name, err)
		}
	}

	health.StartHealthCheckServer("supervisor", cfg.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received...")
		cancel()
	}()

	if err := sup.StartAll(ctx); err != nil {
		log.Fatalf("Failed to start processes: %v", err)
	}

	if err := sup.Run(ctx, cfg.SupervisorCheckInterval); err != nil && err != context.Canceled {
		log.Fatalf("Supervisor error: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	sup.StopAll(stopCtx)

	log.Printf("Supervisor stopped successfully")
}
