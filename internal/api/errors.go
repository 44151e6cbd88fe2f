// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps the error taxonomy onto HTTP status codes. Messages in
// StageError are already display-safe.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, runstore.ErrNotFound) {
		writeNotFound(w)
		return
	}
	kind := model.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case model.KindValidation, model.KindConfig:
		code = http.StatusBadRequest
	case model.KindContextMissing:
		code = http.StatusNotFound
	case model.KindQualityGateRejected:
		code = http.StatusUnprocessableEntity
	case model.KindThrottled:
		code = http.StatusTooManyRequests
	case model.KindTimeout:
		code = http.StatusGatewayTimeout
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: string(kind)})
}

// writeNotFound writes a 404 Not Found response.
func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
}
