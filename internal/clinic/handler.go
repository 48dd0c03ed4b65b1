package clinic

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// Handler exposes the clinic configuration over HTTP.
type Handler struct {
	cfg    *Config
	clock  func() time.Time
	logger *logging.Logger
}

// NewHandler creates a clinic info handler.
func NewHandler(cfg *Config, clock func() time.Time, logger *logging.Logger) *Handler {
	if cfg == nil {
		panic("clinic: config cannot be nil")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// InfoResponse describes the clinic to patients and staff tools.
type InfoResponse struct {
	Name                string        `json:"name"`
	Timezone            string        `json:"timezone"`
	AppointmentDuration int           `json:"appointment_duration"`
	BusinessHours       BusinessHours `json:"business_hours"`
	Hours               string        `json:"hours"`
	OpenNow             bool          `json:"open_now"`
	LocalTime           string        `json:"local_time"`
}

// GetInfo returns the clinic configuration.
// GET /clinic
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	now := h.clock().In(h.cfg.Location())
	resp := InfoResponse{
		Name:                h.cfg.Name,
		Timezone:            h.cfg.Timezone,
		AppointmentDuration: h.cfg.AppointmentDuration,
		BusinessHours:       h.cfg.BusinessHours,
		Hours:               h.cfg.HoursSummary(),
		OpenNow:             h.cfg.IsOpenAt(now),
		LocalTime:           now.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode clinic info", "clinic", h.cfg.Name, "error", err)
	}
}
