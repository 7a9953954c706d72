package httpapi

import (
	"encoding/json"
	"net/http"
)

// envelope is the response body; the success flag is set by the writer so
// handlers never get it wrong.
type envelope map[string]any

func (a *API) respond(w http.ResponseWriter, status int, payload envelope) {
	if payload == nil {
		payload = envelope{}
	}
	payload["success"] = status < http.StatusBadRequest
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		a.log.Error("failed to encode response", "err", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, msg string) {
	a.respond(w, status, envelope{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
