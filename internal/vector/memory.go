package vector

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu         sync.Mutex
	embeddings map[string]*Embedding // (project, fragment)

	// FailWith makes every call fail, simulating an outage.
	FailWith error
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{embeddings: make(map[string]*Embedding)}
}

// SetOffline toggles simulated outage.
func (s *MemoryStore) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offline {
		s.FailWith = apperr.Dependency(nil, "vector")
	} else {
		s.FailWith = nil
	}
}

// Get returns a stored embedding, for test assertions.
func (s *MemoryStore) Get(projectID, fragmentID string) (*Embedding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.embeddings[projectID+"/"+fragmentID]
	return e, ok
}

// Len reports the number of stored embeddings.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.embeddings)
}

// Upsert stores or replaces the fragment's embedding.
func (s *MemoryStore) Upsert(ctx context.Context, e *Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.embeddings[e.ProjectID+"/"+e.FragmentID] = &cp
	return nil
}

// Search ranks stored embeddings by cosine distance.
func (s *MemoryStore) Search(ctx context.Context, projectID string, query []float32, limit int) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	if limit <= 0 {
		limit = 10
	}
	var out []Match
	for _, e := range s.embeddings {
		if e.ProjectID != projectID {
			continue
		}
		out = append(out, Match{FragmentID: e.FragmentID, Distance: cosineDistance(query, e.Vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping reports the simulated outage state.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error { return nil }

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
