package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/calendarapp/server/internal/apperr"
	"github.com/rs/zerolog/log"
)

// envelope is the success response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// problem is an RFC 7807 error object, carried inside the error envelope.
type problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// errorEnvelope is the error response shape: `{success: false, error: {...}}`.
type errorEnvelope struct {
	Success bool    `json:"success"`
	Error   problem `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: true, Message: msg})
}

// writeProblem renders a classified error as an RFC 7807 body. Unclassified
// errors surface as 500 with no internal detail.
func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	detail := ""
	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		detail = aerr.Message
	}
	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		detail = ""
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	body := errorEnvelope{Error: problem{
		Type:     "about:blank#" + string(kind),
		Title:    string(kind),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode problem response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(code)
	body := errorEnvelope{Error: problem{
		Type:     "about:blank",
		Title:    http.StatusText(code),
		Status:   code,
		Detail:   msg,
		Instance: r.URL.Path,
	}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode problem response")
	}
}

// decodeBody parses a JSON request body into dst with a sane size cap.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
