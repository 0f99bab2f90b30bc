package health

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

var startTime time.Time

func init() {
	startTime = time.Now()
}

type HealthResponse struct {
	Status        string `json:"status"`
	Service       string `json:"service"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     int64  `json:"timestamp"`
}

// StartHealthCheckServer serves /health for one component on its own
// goroutine.
func StartHealthCheckServer(service, port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		response := &HealthResponse{
			Status:        "healthy",
			Service:       service,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Timestamp:     time.Now().Unix(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	})

	log.Printf("Health check listening on : %s", port)

	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Fatalf("Health server failed: %v", err)
		}
	}()
}
