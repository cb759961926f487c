package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/cache"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// ScheduleStore is the availability write and read surface for staff.
type ScheduleStore interface {
	WeeklyWindows(ctx context.Context, doctorID string) ([]model.WeeklyWindow, error)
	ReplaceWeeklyWindows(ctx context.Context, doctorID string, windows []model.WeeklyWindow) error
	OverridesInRange(ctx context.Context, doctorID, fromDate, toDate string) (map[string]model.Override, error)
	UpsertOverride(ctx context.Context, o model.Override) error
}

type ScheduleHandler struct {
	store    ScheduleStore
	dir      ReferenceReader
	cache    *cache.SlotCache
	validate *validator.Validate
	logger   *slog.Logger
}

func NewScheduleHandler(store ScheduleStore, dir ReferenceReader, slotCache *cache.SlotCache, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		store:    store,
		dir:      dir,
		cache:    slotCache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

type weeklyWindowInput struct {
	Weekday     int `json:"weekday" validate:"min=0,max=6"`
	StartMinute int `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int `json:"end_minute" validate:"min=1,max=1440"`
}

type putAvailabilityRequest struct {
	Windows []weeklyWindowInput `json:"windows" validate:"dive"`
}

// GetAvailability serves GET /api/v1/admin/doctors/{id}/availability.
func (h *ScheduleHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	if _, err := h.dir.GetDoctor(r.Context(), doctorID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	windows, err := h.store.WeeklyWindows(r.Context(), doctorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "windows": windows})
}

// PutAvailability replaces the doctor's whole weekly template. Partial edits
// are deliberately unsupported; the template is small and replacing it whole
// avoids merge ambiguity.
func (h *ScheduleHandler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	if _, err := h.dir.GetDoctor(r.Context(), doctorID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req putAvailabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, model.Validationf("%v", err))
		return
	}

	windows := make([]model.WeeklyWindow, 0, len(req.Windows))
	for _, in := range req.Windows {
		windows = append(windows, model.WeeklyWindow{
			DoctorID:    doctorID,
			Weekday:     time.Weekday(in.Weekday),
			StartMinute: in.StartMinute,
			EndMinute:   in.EndMinute,
		})
	}
	if err := h.store.ReplaceWeeklyWindows(r.Context(), doctorID, windows); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Invalidate(r.Context(), doctorID)
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "windows": windows})
}

type putOverrideRequest struct {
	Kind        string `json:"kind" validate:"required,oneof=day_off custom_hours"`
	StartMinute int    `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute   int    `json:"end_minute" validate:"min=0,max=1440"`
}

// PutOverride serves PUT /api/v1/admin/doctors/{id}/overrides/{date}. The
// override replaces the weekly template for that date entirely.
func (h *ScheduleHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	date := r.PathValue("date")
	if _, err := h.dir.GetDoctor(r.Context(), doctorID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req putOverrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, h.logger, model.Validationf("%v", err))
		return
	}

	override := model.Override{
		DoctorID:    doctorID,
		Date:        date,
		Kind:        model.OverrideKind(req.Kind),
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	}
	if err := h.store.UpsertOverride(r.Context(), override); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Invalidate(r.Context(), doctorID)
	writeJSON(w, http.StatusOK, override)
}

// GetOverrides serves GET /api/v1/admin/doctors/{id}/overrides?from=&to=.
func (h *ScheduleHandler) GetOverrides(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("id")
	if _, err := h.dir.GetDoctor(r.Context(), doctorID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		writeError(w, h.logger, model.Validationf("from and to dates are required"))
		return
	}
	byDate, err := h.store.OverridesInRange(r.Context(), doctorID, from, to)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	overrides := make([]model.Override, 0, len(byDate))
	for _, o := range byDate {
		overrides = append(overrides, o)
	}
	sort.Slice(overrides, func(i, j int) bool { return overrides[i].Date < overrides[j].Date })
	writeJSON(w, http.StatusOK, map[string]any{"doctor_id": doctorID, "overrides": overrides})
}
