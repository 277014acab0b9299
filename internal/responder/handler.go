package responder

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/b-aragu/organic-sphere/internal/observe"
)

// Error messages returned by [Handler].
const (
	msgNoSpeech = "No speech provided"
	msgLLMError = "Error communicating with the language model"
)

// maxRequestBytes bounds the request body accepted by [Handler].
const maxRequestBytes = 64 << 10

type respondRequest struct {
	Speech string `json:"speech"`
}

type respondResponse struct {
	AIResponse string `json:"ai_response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Handler serves POST /api/respond on top of r.
func Handler(r Responder) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var in respondRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBytes))
		if err := dec.Decode(&in); err != nil || strings.TrimSpace(in.Speech) == "" {
			writeJSON(w, http.StatusBadRequest, respondResponse{Error: msgNoSpeech})
			return
		}

		reply, err := r.Send(req.Context(), in.Speech)
		if err != nil {
			observe.Logger(req.Context()).Error("responder: respond failed", "err", err)
			writeJSON(w, http.StatusInternalServerError, respondResponse{Error: msgLLMError})
			return
		}
		writeJSON(w, http.StatusOK, respondResponse{AIResponse: reply})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
