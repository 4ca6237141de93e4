package embed

import (
	"context"
	"hash/fnv"
	"sync"
)

// FakeProvider is a deterministic in-process Provider for tests. Each text
// hashes to a stable small vector, so equality assertions are possible
// without a live embedder.
type FakeProvider struct {
	mu sync.Mutex

	// FailWith makes every call fail, simulating an outage.
	FailWith error
	// Calls counts Embed invocations.
	Calls int
	// Dim is the vector width; defaults to 8.
	Dim int
}

var _ Provider = (*FakeProvider)(nil)

// Model identifies the fake.
func (p *FakeProvider) Model() string { return "fake" }

// Embed returns one deterministic vector per text.
func (p *FakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if p.FailWith != nil {
		return nil, p.FailWith
	}
	dim := p.Dim
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum64()
		vec := make([]float32, dim)
		for j := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float32(seed%1000)/1000 - 0.5
		}
		out[i] = vec
	}
	return out, nil
}
