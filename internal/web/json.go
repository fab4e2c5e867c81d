package web

import (
	"encoding/json"
	"net/http"

	"github.com/sweeney/busencoders/internal/encoder"
	"github.com/sweeney/busencoders/internal/status"
)

// EventsJSON is the response body of /events.json, newest event first.
type EventsJSON struct {
	Events []status.EventJSON `json:"events"`
}

// ErrorJSON is the body of every error response.
type ErrorJSON struct {
	Error string `json:"error"`
}

func formatEvents(evs []encoder.Event) []byte {
	out := EventsJSON{Events: make([]status.EventJSON, 0, len(evs))}
	for _, ev := range evs {
		out.Events = append(out.Events, status.EventToJSON(ev))
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return data
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(ErrorJSON{Error: msg})
	w.Write(data)
}
