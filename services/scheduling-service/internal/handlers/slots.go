package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/cache"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/slots"
)

// SlotResolver is the read path used by the public slots endpoint.
type SlotResolver interface {
	Resolve(ctx context.Context, doctor model.Doctor, fromDate, toDate string, duration time.Duration, now time.Time) ([]slots.DaySlots, error)
	Config() slots.Config
}

// ReferenceReader resolves doctor and service identifiers.
type ReferenceReader interface {
	GetDoctor(ctx context.Context, id string) (model.Doctor, error)
	GetService(ctx context.Context, id string) (model.Service, error)
}

type SlotsHandler struct {
	resolver SlotResolver
	dir      ReferenceReader
	cache    *cache.SlotCache
	logger   *slog.Logger
	now      func() time.Time
}

func NewSlotsHandler(resolver SlotResolver, dir ReferenceReader, slotCache *cache.SlotCache, logger *slog.Logger) *SlotsHandler {
	return &SlotsHandler{
		resolver: resolver,
		dir:      dir,
		cache:    slotCache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type slotsResponse struct {
	DoctorID  string           `json:"doctor_id"`
	ServiceID string           `json:"service_id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Days      []slots.DaySlots `json:"days"`
}

// Get serves GET /api/v1/public/slots. The range defaults to the next seven
// doctor-local days. Responses are eventually consistent; booking re-checks.
func (h *SlotsHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	doctorID := q.Get("doctor_id")
	serviceID := q.Get("service_id")
	if doctorID == "" || serviceID == "" {
		writeError(w, h.logger, model.Validationf("doctor_id and service_id are required"))
		return
	}

	doctor, err := h.dir.GetDoctor(r.Context(), doctorID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	svc, err := h.dir.GetService(r.Context(), serviceID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	now := h.now()
	from := q.Get("from")
	if from == "" {
		from = now.In(doctor.Location()).Format(model.DateFormat)
	}
	to := q.Get("to")
	if to == "" {
		fromDay, err := time.ParseInLocation(model.DateFormat, from, doctor.Location())
		if err != nil {
			writeError(w, h.logger, model.Validationf("invalid from date %q", from))
			return
		}
		to = fromDay.AddDate(0, 0, 6).Format(model.DateFormat)
	}

	if days, ok := h.cache.Get(r.Context(), doctorID, serviceID, from, to); ok {
		writeJSON(w, http.StatusOK, slotsResponse{
			DoctorID: doctorID, ServiceID: serviceID, From: from, To: to, Days: days,
		})
		return
	}

	days, err := h.resolver.Resolve(r.Context(), doctor, from, to,
		time.Duration(svc.DurationMinutes)*time.Minute, now)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.cache.Set(r.Context(), doctorID, serviceID, from, to, days)

	writeJSON(w, http.StatusOK, slotsResponse{
		DoctorID: doctorID, ServiceID: serviceID, From: from, To: to, Days: days,
	})
}
