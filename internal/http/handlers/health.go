package handlers

import (
	"context"
	"math"
	"net/http"
	"runtime"
	"sort"
	"time"
)

const serviceName = "MediBook Clinic API"

// HealthCheck probes one dependency. A nil error means it is usable.
type HealthCheck func(ctx context.Context) error

type HealthConfig struct {
	Version     string
	Environment string
	// Provider and Model describe the configured language model.
	Provider string
	Model    string
	// Checks run on every health request, keyed by dependency name.
	Checks  map[string]HealthCheck
	Started time.Time
	Clock   func() time.Time
}

// HealthHandler reports liveness, uptime and the model in use.
type HealthHandler struct {
	cfg HealthConfig
}

func NewHealthHandler(cfg HealthConfig) *HealthHandler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Started.IsZero() {
		cfg.Started = cfg.Clock()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &HealthHandler{cfg: cfg}
}

type llmInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Configured bool   `json:"configured"`
}

type serverInfo struct {
	GoVersion    string  `json:"go_version"`
	Goroutines   int     `json:"goroutines"`
	MemoryUsedMB float64 `json:"memory_used_mb"`
}

type healthResponse struct {
	Success     bool              `json:"success"`
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Uptime      float64           `json:"uptime"`
	Environment string            `json:"environment"`
	Version     string            `json:"version"`
	LLM         llmInfo           `json:"llm"`
	Checks      map[string]string `json:"checks,omitempty"`
	Server      serverInfo        `json:"server"`
}

// Health handles GET /health. A failing check turns the status to
// "degraded" and the response code to 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.cfg.Clock()
	resp := healthResponse{
		Success:     true,
		Status:      "healthy",
		Timestamp:   now.UTC().Format(time.RFC3339),
		Uptime:      math.Round(now.Sub(h.cfg.Started).Seconds()*100) / 100,
		Environment: h.cfg.Environment,
		Version:     h.cfg.Version,
		LLM: llmInfo{
			Provider:   h.cfg.Provider,
			Model:      h.cfg.Model,
			Configured: h.cfg.Provider != "" && h.cfg.Provider != "local",
		},
		Server: currentServerInfo(),
	}

	names := make([]string, 0, len(h.cfg.Checks))
	for name := range h.cfg.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.cfg.Checks[name](ctx)
		cancel()
		if err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			resp.Success = false
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Root handles GET / with a short service description.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "online",
		"service": serviceName,
		"version": h.cfg.Version,
		"endpoints": map[string]string{
			"chat":          "POST /chat",
			"clinic":        "GET /clinic",
			"clear_session": "DELETE /session/{sessionID}",
			"history":       "GET /session/{sessionID}",
			"sessions":      "GET /sessions",
			"appointments":  "GET /appointments",
			"slots":         "GET /slots?date=",
			"websocket":     "GET /ws",
			"health":        "GET /health",
			"metrics":       "GET /metrics",
		},
	})
}

func currentServerInfo() serverInfo {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return serverInfo{
		GoVersion:    runtime.Version(),
		Goroutines:   runtime.NumGoroutine(),
		MemoryUsedMB: math.Round(float64(mem.Alloc)/1024/1024*100) / 100,
	}
}
