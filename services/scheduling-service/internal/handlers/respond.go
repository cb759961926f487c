// Package handlers exposes the engine over HTTP. Handlers decode and
// validate, delegate to the resolver or coordinator, and translate the typed
// error taxonomy to status codes.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindSlotTaken, model.KindInvalidTransition:
		return http.StatusConflict
	case model.KindHorizonExceeded, model.KindLeadTimeViolation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := model.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		writeJSON(w, status, errorBody{Error: errorDetail{Kind: "internal", Message: "internal error"}})
		return
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: err.Error()}})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return model.Validationf("invalid request body: %v", err)
	}
	return nil
}
