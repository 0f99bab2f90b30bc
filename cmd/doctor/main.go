// Command doctor runs a one-shot health inspection of a workspace and exits
// 0 (healthy), 1 (degraded) or 2 (critical).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/audit"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/config"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/models"
	"github.com/Syed-Hamza-Ali-8/Autonomous-FTEs-sub000/internal/store"
)

const (
	exitHealthy  = 0
	exitDegraded = 1
	exitCritical = 2
)

const memoryWarnPercent = 90.0

type report struct {
	worst int
}

func (r *report) note(severity int, format string, args ...interface{}) {
	label := "OK"
	switch severity {
	case exitDegraded:
		label = "WARN"
	case exitCritical:
		label = "CRIT"
	}
	fmt.Printf("[%s] %s\n", label, fmt.Sprintf(format, args...))
	if severity > r.worst {
		r.worst = severity
	}
}

func main() {
	log.SetFlags(0)

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("[CRIT] configuration: %v\n", err)
		os.Exit(exitCritical)
	}
	if len(os.Args) > 1 {
		cfg.WorkspaceRoot = os.Args[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := &report{}
	checkStore(ctx, r, cfg)
	checkAudit(r, cfg)
	checkHost(r)

	os.Exit(r.worst)
}

func checkStore(ctx context.Context, r *report, cfg *config.Config) {
	db, err := store.Open(cfg.WorkspaceRoot)
	if err != nil {
		r.note(exitCritical, "store: cannot open: %v", err)
		return
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		r.note(exitCritical, "store: ping failed: %v", err)
		return
	}
	r.note(exitHealthy, "store: reachable")

	counts, err := store.NewRecordStore(db).CountByStatus(ctx)
	if err != nil {
		r.note(exitDegraded, "store: status counts failed: %v", err)
	} else {
		for _, status := range []string{models.StatusPending, models.StatusApproved, models.StatusInProgress} {
			r.note(exitHealthy, "store: %d records %s", counts[status], status)
		}
		if n := counts[models.StatusQuarantined]; n > 0 {
			r.note(exitDegraded, "store: %d records quarantined, operator review needed", n)
		} else {
			r.note(exitHealthy, "store: nothing quarantined")
		}
	}

	depth, err := store.NewDeadLetterQueue(db).Depth(ctx)
	if err != nil {
		r.note(exitDegraded, "dlq: depth check failed: %v", err)
	} else if depth > 0 {
		r.note(exitDegraded, "dlq: %d items awaiting retry", depth)
	} else {
		r.note(exitHealthy, "dlq: empty")
	}

	procs, err := store.NewProcessStore(db).List(ctx)
	if err != nil {
		r.note(exitDegraded, "processes: list failed: %v", err)
		return
	}
	for _, p := range procs {
		switch p.LastStatus {
		case "exhausted":
			r.note(exitCritical, "process %s: restart budget exhausted (pid %d)", p.Name, p.PID)
		case "down":
			r.note(exitDegraded, "process %s: down (pid %d)", p.Name, p.PID)
		default:
			r.note(exitHealthy, "process %s: %s (pid %d)", p.Name, p.LastStatus, p.PID)
		}
	}
}

func checkAudit(r *report, cfg *config.Config) {
	auditor, err := audit.NewLogger(cfg.WorkspaceRoot + "/audit")
	if err != nil {
		r.note(exitCritical, "audit: cannot open: %v", err)
		return
	}
	if err := auditor.Writable(); err != nil {
		r.note(exitCritical, "audit: not writable: %v", err)
		return
	}
	r.note(exitHealthy, "audit: writable")
}

func checkHost(r *report) {
	if avg, err := load.Avg(); err != nil {
		r.note(exitDegraded, "host: load unavailable: %v", err)
	} else if avg.Load1 > float64(runtime.NumCPU()*2) {
		r.note(exitDegraded, "host: load1 %.2f over %d CPUs", avg.Load1, runtime.NumCPU())
	} else {
		r.note(exitHealthy, "host: load1 %.2f", avg.Load1)
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		r.note(exitDegraded, "host: memory unavailable: %v", err)
	} else if vm.UsedPercent > memoryWarnPercent {
		r.note(exitDegraded, "host: memory %.1f%% used", vm.UsedPercent)
	} else {
		r.note(exitHealthy, "host: memory %.1f%% used", vm.UsedPercent)
	}
}
