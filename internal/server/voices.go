package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// voiceJSON is the public shape of a registry record. Embedding vectors stay
// server-side.
type voiceJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// matchJSON is the verification and identification response body. The field
// set mirrors the sidecar's own compare responses so clients of the old
// sidecar API keep working against this endpoint.
type matchJSON struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score"`
	IsMatch bool    `json:"is_match"`
	Status  string  `json:"status"`
}

// voicesEnabled answers 503 when the voice engine is not configured.
// Returns true when the request may proceed.
func (s *Server) voicesEnabled(w http.ResponseWriter) bool {
	if s.voices == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "voice identification is not configured; set voiceid.sidecar_url",
		})
		return false
	}
	return true
}

// handleRegisterVoice stores a named voice from an uploaded WAV sample.
// Re-registering a name replaces its embedding.
func (s *Server) handleRegisterVoice(w http.ResponseWriter, r *http.Request) {
	if !s.voicesEnabled(w) {
		return
	}
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "voice name must not be empty"})
		return
	}
	sample, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(sample) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "voice sample must not be empty"})
		return
	}

	ctx := r.Context()
	start := time.Now()
	rec, err := s.voices.Register(ctx, name, sample)
	s.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, voiceJSON{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
	})
}

// handleListVoices returns all registered voices ordered by name.
func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	if !s.voicesEnabled(w) {
		return
	}
	recs, err := s.voices.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	voices := make([]voiceJSON, len(recs))
	for i, rec := range recs {
		voices[i] = voiceJSON{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string][]voiceJSON{"voices": voices})
}

// handleDeleteVoice removes a voice by name.
func (s *Server) handleDeleteVoice(w http.ResponseWriter, r *http.Request) {
	if !s.voicesEnabled(w) {
		return
	}
	name := r.PathValue("name")
	if err := s.voices.Delete(r.Context(), name); err != nil {
		s.writeVoiceError(w, r, name, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVerifyVoice scores an uploaded sample against one named voice.
func (s *Server) handleVerifyVoice(w http.ResponseWriter, r *http.Request) {
	if !s.voicesEnabled(w) {
		return
	}
	name := r.PathValue("name")
	sample, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(sample) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "voice sample must not be empty"})
		return
	}

	ctx := r.Context()
	start := time.Now()
	match, err := s.voices.Verify(ctx, name, sample)
	s.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.writeVoiceError(w, r, name, err)
		return
	}

	writeJSON(w, http.StatusOK, matchJSON{
		Name:    match.Name,
		Score:   match.Score,
		IsMatch: match.IsMatch,
		Status:  "success",
	})
}

// handleIdentifyVoice finds the registered voice closest to an uploaded
// sample.
func (s *Server) handleIdentifyVoice(w http.ResponseWriter, r *http.Request) {
	if !s.voicesEnabled(w) {
		return
	}
	sample, ok := readBody(w, r)
	if !ok {
		return
	}
	if len(sample) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "voice sample must not be empty"})
		return
	}

	ctx := r.Context()
	start := time.Now()
	match, err := s.voices.Identify(ctx, sample)
	s.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, matchJSON{
		Name:    match.Name,
		Score:   match.Score,
		IsMatch: match.IsMatch,
		Status:  "success",
	})
}

// writeVoiceError writes err for a named-voice operation. A miss gets a 404
// with a "did you mean" hint when a registered name is close enough.
func (s *Server) writeVoiceError(w http.ResponseWriter, r *http.Request, name string, err error) {
	if statusFromError(err) != http.StatusNotFound {
		writeError(w, r, err)
		return
	}
	msg := fmt.Sprintf("voice %q not found", name)
	if hint, ok := s.voices.Suggest(r.Context(), name); ok {
		msg = fmt.Sprintf("%s; did you mean %q?", msg, hint)
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: msg})
}
