package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tminde/parley/pkg/provider/stt"
	"github.com/tminde/parley/pkg/provider/stt/openai"
	"github.com/tminde/parley/pkg/wav"
)

// transcriptionServer fakes the OpenAI transcription endpoint. It records the
// received multipart fields into fields.
func transcriptionServer(t *testing.T, text string, fields map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, "bad multipart", http.StatusBadRequest)
			return
		}
		if fields != nil {
			for k, v := range r.MultipartForm.Value {
				if len(v) > 0 {
					fields[k] = v[0]
				}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func TestNew_EmptyAPIKey_ReturnsError(t *testing.T) {
	_, err := openai.New("")
	if err == nil {
		t.Fatal("expected error for empty apiKey, got nil")
	}
}

func TestTranscribe_ReturnsText(t *testing.T) {
	fields := map[string]string{}
	srv := transcriptionServer(t, "guten tag", fields)
	defer srv.Close()

	p, err := openai.New("sk-test", openai.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip := wav.Encode(make([]byte, 640), 16000, 1)
	res, err := p.Transcribe(context.Background(), stt.Request{Audio: clip, Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "guten tag" {
		t.Errorf("text = %q, want %q", res.Text, "guten tag")
	}
	if fields["language"] != "de" {
		t.Errorf("language field = %q, want %q", fields["language"], "de")
	}
	if fields["model"] == "" {
		t.Error("model field missing from request")
	}
}

func TestTranscribe_CustomModel(t *testing.T) {
	fields := map[string]string{}
	srv := transcriptionServer(t, "ok", fields)
	defer srv.Close()

	p, err := openai.New("sk-test",
		openai.WithBaseURL(srv.URL),
		openai.WithModel("gpt-4o-transcribe"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clip := wav.Encode(make([]byte, 640), 16000, 1)
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: clip}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if fields["model"] != "gpt-4o-transcribe" {
		t.Errorf("model field = %q, want %q", fields["model"], "gpt-4o-transcribe")
	}
}

func TestTranscribe_EmptyAudio_ReturnsError(t *testing.T) {
	p, err := openai.New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Fatal("expected error for empty audio, got nil")
	}
}
