package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/cache"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// BookingService is what the booking endpoints need from the coordinator.
type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, bool, error)
	Get(ctx context.Context, apptID string) (model.Appointment, error)
	Cancel(ctx context.Context, apptID, reason string, actor lifecycle.Actor) (model.Appointment, error)
	ConfirmPayment(ctx context.Context, apptID string, payAtClinic bool) (model.Appointment, error)
	Complete(ctx context.Context, apptID string, clinicSignal bool) (model.Appointment, error)
	MarkNoShow(ctx context.Context, apptID string) (model.Appointment, error)
}

// AppointmentLister backs the staff listing endpoint.
type AppointmentLister interface {
	ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Appointment, error)
}

type BookingHandler struct {
	svc      BookingService
	lister   AppointmentLister
	cache    *cache.SlotCache
	validate *validator.Validate
	logger   *slog.Logger
}

func NewBookingHandler(svc BookingService, lister AppointmentLister, slotCache *cache.SlotCache, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{
		svc:      svc,
		lister:   lister,
		cache:    slotCache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type bookRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required"`
	PatientID string `json:"patient_id" validate:"required"`
	ServiceID string `json:"service_id" validate:"required"`
	StartTime string `json:"start_time" validate:"required"`
	Notes     string `json:"notes" validate:"max=2000"`
}

// Book serves POST /api/v1/public/book. The Idempotency-Key header makes the
// request safely retryable; a replay returns the originally created
// appointment with 200 instead of 201.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, model.Validationf("%v", err))
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, h.logger, model.Validationf("start_time must be RFC 3339, got %q", req.StartTime))
		return
	}

	appt, replayed, err := h.svc.Book(r.Context(), booking.BookRequest{
		DoctorID:       req.DoctorID,
		PatientID:      req.PatientID,
		ServiceID:      req.ServiceID,
		Start:          start,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	} else {
		h.cache.Invalidate(r.Context(), appt.DoctorID)
	}
	writeJSON(w, status, appt)
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.svc.Cancel(r.Context(), r.PathValue("id"), req.Reason, ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Invalidate(r.Context(), appt.DoctorID)
	writeJSON(w, http.StatusOK, appt)
}

type confirmRequest struct {
	PayAtClinic bool `json:"pay_at_clinic"`
}

// Confirm is the staff path for moving pending to scheduled, covering manual
// reconciliation and pay-at-clinic acknowledgement. Automated confirmation
// arrives through the payment webhook and the billing event consumer.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.svc.ConfirmPayment(r.Context(), r.PathValue("id"), req.PayAtClinic)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type completeRequest struct {
	ClinicSignal bool `json:"clinic_signal"`
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	appt, err := h.svc.Complete(r.Context(), r.PathValue("id"), req.ClinicSignal)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	appt, err := h.svc.MarkNoShow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Invalidate(r.Context(), appt.DoctorID)
	writeJSON(w, http.StatusOK, appt)
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	doctorID := r.URL.Query().Get("doctor_id")
	if doctorID == "" {
		writeError(w, h.logger, model.Validationf("doctor_id is required"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, h.logger, model.Validationf("limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	appts, err := h.lister.ListByDoctor(r.Context(), doctorID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}
