// Package mock is an in-memory stand-in for a translation backend.
//
// Script the outcome through the exported fields, then inspect
// TranslateCalls to see what text and language pair the caller sent.
// With nothing scripted, Translate echoes its input, which keeps
// pipeline tests readable.
package mock

import (
	"context"
	"sync"

	"github.com/tminde/parley/pkg/provider/translate"
)

var _ translate.Provider = (*Provider)(nil)

// Provider scripts translate.Provider outcomes and keeps every request
// it saw. Safe for concurrent use.
type Provider struct {
	// TranslateFunc, when set, decides each Translate outcome and wins
	// over the Result/Err pair below.
	TranslateFunc func(ctx context.Context, req translate.Request) (string, error)

	// TranslateResult is handed back on success. When empty, Translate
	// echoes req.Text instead.
	TranslateResult string

	// TranslateErr makes every Translate call fail.
	TranslateErr error

	// TranslateCalls holds the translation requests in arrival order.
	TranslateCalls []translate.Request

	mu sync.Mutex
}

// Translate appends req to TranslateCalls and plays back the scripted
// outcome.
func (p *Provider) Translate(ctx context.Context, req translate.Request) (string, error) {
	p.mu.Lock()
	p.TranslateCalls = append(p.TranslateCalls, req)
	fn, out, err := p.TranslateFunc, p.TranslateResult, p.TranslateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	if out == "" {
		return req.Text, nil
	}
	return out, nil
}

// Reset forgets the recorded calls but keeps the scripted outcomes.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranslateCalls = nil
}
