// Package mock is a scripted llm.Provider for tests. It replays Responses
// in order and records every prompt it was sent.
//
//	p := &mock.Provider{Responses: []string{"Hello!", "Nice."}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/kamihatanoadoresu/english-conversation/pkg/provider/llm"
	"github.com/kamihatanoadoresu/english-conversation/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall is one recorded Complete call. Req.Messages is a copy.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is safe for concurrent use; set its fields before the first call
// or under test control between calls.
type Provider struct {
	mu sync.Mutex

	// Responses are consumed one per call; after that CompleteResponse
	// (possibly nil) is returned.
	Responses        []string
	CompleteResponse *llm.CompletionResponse

	// CompleteErr fails every call. ErrOnCall fails single calls by their
	// 1-based index.
	CompleteErr error
	ErrOnCall   func(call int) error

	// TokenCount overrides the CountTokens estimate when non-zero.
	TokenCount        int
	ModelCapabilities types.ModelCapabilities

	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = slices.Clone(req.Messages)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if p.ErrOnCall != nil {
		if err := p.ErrOnCall(len(p.CompleteCalls)); err != nil {
			return nil, err
		}
	}
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if len(p.Responses) > 0 {
		next := p.Responses[0]
		p.Responses = p.Responses[1:]
		return &llm.CompletionResponse{Content: next}, nil
	}
	return p.CompleteResponse, nil
}

// CountTokens returns TokenCount or the shared estimate.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.TokenCount != 0 {
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.CompleteCalls)
}

// Reset forgets the recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
