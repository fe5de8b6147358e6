package server

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/scheduler"
)

// SystemHandlers handles health, status and maintenance job endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	historyDB   *database.DB // nil when the price cache is disabled
	scheduler   *scheduler.Scheduler
	jobs        map[string]scheduler.Job
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, historyDB *database.DB, sched *scheduler.Scheduler) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		historyDB:   historyDB,
		scheduler:   sched,
		jobs:        make(map[string]scheduler.Job),
	}
}

// SetJobs registers job references for manual triggering
func (h *SystemHandlers) SetJobs(jobs ...scheduler.Job) {
	for _, job := range jobs {
		h.jobs[job.Name()] = job
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string                         `json:"status"`
	UptimeSeconds float64                        `json:"uptime_seconds"`
	GoVersion     string                         `json:"go_version"`
	Goroutines    int                            `json:"goroutines"`
	CPUPercent    float64                        `json:"cpu_percent"`
	MemoryPercent float64                        `json:"memory_percent"`
	PriceCache    *database.Stats                `json:"price_cache,omitempty"`
	Jobs          map[string]scheduler.RunRecord `json:"jobs,omitempty"`
}

// HandleHealth reports liveness and, when the cache is enabled, database health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy"}
	status := http.StatusOK

	if h.historyDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.historyDB.HealthCheck(ctx); err != nil {
			h.log.Error().Err(err).Msg("Price cache health check failed")
			response.Status = "degraded"
			response.Database = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			response.Database = "ok"
		}
	}

	h.writeJSON(w, status, response)
}

// HandleSystemStatus returns process, host and cache status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	cpuPercent, memPercent := h.getSystemStats()
	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startupTime).Seconds(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
	}

	if h.historyDB != nil {
		stats, err := h.historyDB.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get price cache stats")
		} else {
			response.PriceCache = stats
		}
	}

	if h.scheduler != nil && len(h.jobs) > 0 {
		response.Jobs = make(map[string]scheduler.RunRecord, len(h.jobs))
		for name := range h.jobs {
			if record, ok := h.scheduler.LastRun(name); ok {
				response.Jobs[name] = record
			}
		}
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleTriggerJob runs a registered job immediately
// POST /api/jobs/{name}/run
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	job, ok := h.jobs[name]
	if !ok || h.scheduler == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "Job not registered: " + name})
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job run triggered")
	if err := h.scheduler.RunNow(r.Context(), job); err != nil {
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Job " + name + " completed"})
}

// getSystemStats returns CPU and RAM usage percentages.
// CPU is sampled over 100ms to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
