// Package handlers serves the JSON API on top of the ledger, conversion and
// segment services.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/models"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

var statusByKind = map[string]int{
	models.KindValidation:        http.StatusBadRequest,
	models.KindNotFound:          http.StatusNotFound,
	models.KindConflict:          http.StatusConflict,
	models.KindState:             http.StatusConflict,
	models.KindInsufficientFunds: http.StatusUnprocessableEntity,
	models.KindInfrastructure:    http.StatusServiceUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status by kind. Infrastructure causes are logged
// and not echoed to the client.
func writeError(w http.ResponseWriter, logger *zap.Logger, r *http.Request, err error) {
	kind := models.KindOf(err)
	body := errorBody{Error: kind, Message: err.Error()}
	var verr *models.ErrValidation
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	if kind == models.KindInfrastructure {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		body.Message = "service temporarily unavailable"
	}
	writeJSON(w, statusByKind[kind], body)
}

// decodeJSON reads a bounded JSON body and rejects unknown fields.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &models.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &models.ErrValidation{Field: name, Message: "must be a UUID"}
	}
	return id, nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &models.ErrValidation{Field: name, Message: fmt.Sprintf("%q is not a non-negative integer", raw)}
	}
	return n, nil
}
