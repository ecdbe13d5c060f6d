package server

import (
	"net/http"

	"github.com/tminde/parley/internal/relay"
	"github.com/tminde/parley/pkg/provider/tts"
)

// relayJSON is the /v1/relay response body. Audio is the re-encoded frame
// stream; encoding/json renders []byte as base64.
type relayJSON struct {
	Transcript  string `json:"transcript"`
	Translation string `json:"translation"`
	SourceLang  string `json:"source_lang"`
	TargetLang  string `json:"target_lang"`
	Audio       []byte `json:"audio"`
}

// handleRelay runs the full relay pipeline for one message. The body is an
// encoded frame stream; source, target, and an optional voice are query
// parameters.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "relay is not configured; set stt, tts, and translate providers",
		})
		return
	}
	if !s.acquire(r) {
		return
	}
	defer s.release()

	stream, ok := readBody(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	res, err := s.relay.Relay(r.Context(), relay.Request{
		Stream:     stream,
		SourceLang: q.Get("source"),
		TargetLang: q.Get("target"),
		Voice:      tts.Voice{ID: q.Get("voice")},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, relayJSON{
		Transcript:  res.Transcript,
		Translation: res.Translation,
		SourceLang:  res.SourceLang,
		TargetLang:  res.TargetLang,
		Audio:       res.Stream,
	})
}
