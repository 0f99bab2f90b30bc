package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/errclass"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/eventbus"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/executor"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/health"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

func main() {
	log.Printf("Executor starting...")

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

	registry := executor.NewRegistry()
	registerBuiltins(registry)

	// Every action type the deployment expects must resolve before any work
	// is claimed; a typo here should kill the boot, not a record at runtime.
	if required := os.Getenv("REQUIRED_ACTION_TYPES"); required != "" {
		var types []string
		for _, t := range strings.Split(required, ",") {
			types = append(types, strings.TrimSpace(t))
		}
		if err := registry.Validate(types); err != nil {
			log.Fatalf("Handler registry validation failed: %v", err)
		}
	}

	engine := executor.NewEngine(
		store.NewRecordStore(db),
		registry,
		store.NewDeadLetterQueue(db),
		store.NewSnapshotStore(db),
	).WithAuditor(auditor)

	if publisher, err := eventbus.NewPublisher(cfg.NatsURL); err != nil {
		log.Printf("Warning: NATS unavailable, completion events disabled: %v", err)
	} else {
		defer publisher.Close()
		engine = engine.WithPublisher(publisher)
	}

	health.StartHealthCheckServer("executor", cfg.HealthPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Printf("Shutdown signal received...")
		cancel()
	}()

	// Anything left in_progress by a previous crash is failed over to the
	// dead-letter queue before new work starts.
	if err := engine.RecoverInFlight(ctx); err != nil {
		log.Fatalf("Crash recovery failed: %v", err)
	}

	log.Printf("Executor sweeping every %s", cfg.ExecutorSweepInterval)
	if err := engine.Run(ctx, cfg.ExecutorSweepInterval); err != nil && err != context.Canceled {
		log.Fatalf("Executor error: %v", err)
	}

	log.Printf("Executor stopped successfully")
}

// registerBuiltins wires the handlers this deployment ships with. Anything
// heavier lives behind its own action type and gets added here.
func registerBuiltins(reg *executor.Registry) {
	must := func(err error) {
		if err != nil {
			log.Fatalf("Failed to register handler: %v", err)
		}
	}

	must(reg.Register("notice", executor.HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		msg, _ := payload["message"].(string)
		log.Printf("Notice: %s", msg)
		return map[string]interface{}{"delivered": true}, nil
	})))

	must(reg.Register("run_command", executor.HandlerFunc(func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		command, _ := payload["command"].(string)
		if command == "" {
			return nil, errclass.New(errclass.Logic, fmt.Errorf("run_command payload missing command"))
		}
		out, err := exec.CommandContext(ctx, "/bin/sh", "-c", command).CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return map[string]interface{}{"output": strings.TrimSpace(string(out))}, nil
	})))
}
