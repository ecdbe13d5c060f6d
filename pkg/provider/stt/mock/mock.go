// Package mock is an in-memory stand-in for a transcription backend.
//
// Script the outcome through the exported fields, then inspect
// TranscribeCalls to see what audio and hints the caller sent:
//
//	p := &mock.Provider{
//	    TranscribeResult: &stt.Result{Text: "hello world", Language: "en"},
//	}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: wavBytes})
package mock

import (
	"context"
	"sync"

	"github.com/tminde/parley/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider scripts stt.Provider outcomes and keeps every request it saw.
// Safe for concurrent use.
type Provider struct {
	// TranscribeFunc, when set, decides each Transcribe outcome and wins
	// over the Result/Err pair below.
	TranscribeFunc func(ctx context.Context, req stt.Request) (*stt.Result, error)

	// TranscribeResult is handed back (as a copy) on success. When left
	// nil, Transcribe answers with an empty Result echoing the language
	// hint.
	TranscribeResult *stt.Result

	// TranscribeErr makes every Transcribe call fail.
	TranscribeErr error

	// TranscribeCalls holds the transcription requests in arrival order.
	// Each entry carries its own copy of the audio, so callers reusing
	// buffers cannot corrupt the record.
	TranscribeCalls []stt.Request

	mu sync.Mutex
}

// Transcribe appends req to TranscribeCalls and plays back the scripted
// outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	rec := req
	rec.Audio = append([]byte(nil), req.Audio...)

	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, rec)
	fn, res, err := p.TranscribeFunc, p.TranscribeResult, p.TranscribeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &stt.Result{Language: req.Language}, nil
	}
	cp := *res
	return &cp, nil
}

// Reset forgets the recorded calls but keeps the scripted outcomes.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}
