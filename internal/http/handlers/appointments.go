package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medibook-assistant/internal/bookings"
	"github.com/wolfman30/medibook-assistant/internal/calendar"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// AppointmentBook is the calendar surface the staff endpoints read and prune.
type AppointmentBook interface {
	All(ctx context.Context) ([]calendar.Appointment, error)
	ByPhone(ctx context.Context, phone string) ([]calendar.Appointment, error)
	OnDay(ctx context.Context, day time.Time) ([]calendar.Appointment, error)
	Cancel(ctx context.Context, id string) (calendar.Appointment, error)
	PurgePast(ctx context.Context) (int, error)
	Now() time.Time
}

// SlotFinder resolves a date phrase into the open slots of that day.
type SlotFinder interface {
	AvailableSlots(ctx context.Context, dateText string) (bookings.Result, error)
}

type AppointmentsConfig struct {
	Book   AppointmentBook
	Slots  SlotFinder
	Logger *logging.Logger
}

// AppointmentsHandler serves the staff view of the appointment document.
type AppointmentsHandler struct {
	book   AppointmentBook
	slots  SlotFinder
	logger *logging.Logger
}

func NewAppointmentsHandler(cfg AppointmentsConfig) *AppointmentsHandler {
	if cfg.Book == nil {
		panic("handlers: appointment book cannot be nil")
	}
	if cfg.Slots == nil {
		panic("handlers: slot finder cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AppointmentsHandler{book: cfg.Book, slots: cfg.Slots, logger: cfg.Logger}
}

type appointmentList struct {
	Date         string                 `json:"date,omitempty"`
	Phone        string                 `json:"phone,omitempty"`
	Count        int                    `json:"count"`
	Appointments []calendar.Appointment `json:"appointments"`
}

func listOf(appointments []calendar.Appointment) appointmentList {
	if appointments == nil {
		appointments = []calendar.Appointment{}
	}
	return appointmentList{Count: len(appointments), Appointments: appointments}
}

// List handles GET /appointments.
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.book.All(r.Context())
	if err != nil {
		h.logger.Error("failed to list appointments", "error", err)
		jsonError(w, "failed to load appointments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, listOf(all))
}

// ByPhone handles GET /appointments/{phone}.
func (h *AppointmentsHandler) ByPhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if calendar.NormalizePhone(phone) == "" {
		jsonError(w, "phone is required", http.StatusBadRequest)
		return
	}
	found, err := h.book.ByPhone(r.Context(), phone)
	if err != nil {
		h.logger.Error("failed to list appointments by phone", "error", err, "phone", logging.MaskPhone(phone))
		jsonError(w, "failed to load appointments", http.StatusInternalServerError)
		return
	}
	out := listOf(found)
	out.Phone = phone
	writeJSON(w, http.StatusOK, out)
}

// Today handles GET /appointments/today in clinic time.
func (h *AppointmentsHandler) Today(w http.ResponseWriter, r *http.Request) {
	now := h.book.Now()
	found, err := h.book.OnDay(r.Context(), now)
	if err != nil {
		h.logger.Error("failed to list today's appointments", "error", err)
		jsonError(w, "failed to load appointments", http.StatusInternalServerError)
		return
	}
	out := listOf(found)
	out.Date = now.Format("2006-01-02")
	writeJSON(w, http.StatusOK, out)
}

// Delete handles DELETE /appointments/{appointmentID}.
func (h *AppointmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "appointmentID"))
	if id == "" {
		jsonError(w, "appointment id is required", http.StatusBadRequest)
		return
	}
	removed, err := h.book.Cancel(r.Context(), id)
	if errors.Is(err, calendar.ErrNotFound) {
		jsonError(w, "appointment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to delete appointment", "error", err, "appointment_id", id)
		jsonError(w, "failed to delete appointment", http.StatusInternalServerError)
		return
	}
	h.logger.Info("appointment deleted by staff", "appointment_id", id)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Appointment " + id + " deleted",
		"appointment": removed,
	})
}

// Cleanup handles POST /appointments/cleanup, dropping appointments that
// have already ended.
func (h *AppointmentsHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.book.PurgePast(r.Context())
	if err != nil {
		h.logger.Error("failed to purge past appointments", "error", err)
		jsonError(w, "failed to clean up appointments", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// Slots handles GET /slots?date=<phrase>.
func (h *AppointmentsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		jsonError(w, "date query parameter is required", http.StatusBadRequest)
		return
	}
	res, err := h.slots.AvailableSlots(r.Context(), date)
	if err != nil {
		h.logger.Error("failed to compute slots", "error", err, "date", date)
		jsonError(w, "failed to compute slots", http.StatusInternalServerError)
		return
	}
	if !res.Success {
		jsonError(w, res.Message, http.StatusBadRequest)
		return
	}
	slots := res.Slots
	if slots == nil {
		slots = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":  res.Date,
		"count": len(slots),
		"slots": slots,
	})
}
