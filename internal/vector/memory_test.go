package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Upsert(ctx, &Embedding{
		ProjectID:  "proj-1",
		FragmentID: "frag-1",
		Vector:     []float32{1, 0, 0},
		Model:      "fake",
	})
	require.NoError(t, err)

	e, ok := s.Get("proj-1", "frag-1")
	require.True(t, ok)
	assert.Equal(t, "fake", e.Model)
	assert.False(t, e.CreatedAt.IsZero())

	// Replacing keeps one row per (project, fragment).
	err = s.Upsert(ctx, &Embedding{
		ProjectID:  "proj-1",
		FragmentID: "frag-1",
		Vector:     []float32{0, 1, 0},
		Model:      "fake",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStoreSearchRanksByCosine(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for id, vec := range map[string][]float32{
		"close":      {1, 0.1, 0},
		"orthogonal": {0, 0, 1},
		"opposite":   {-1, 0, 0},
	} {
		require.NoError(t, s.Upsert(ctx, &Embedding{
			ProjectID:  "proj-1",
			FragmentID: id,
			Vector:     vec,
			Model:      "fake",
		}))
	}
	// Rows from other projects never leak into results.
	require.NoError(t, s.Upsert(ctx, &Embedding{
		ProjectID:  "proj-2",
		FragmentID: "foreign",
		Vector:     []float32{1, 0, 0},
		Model:      "fake",
	}))

	matches, err := s.Search(ctx, "proj-1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "close", matches[0].FragmentID)
	assert.Less(t, matches[0].Distance, matches[1].Distance)
}

func TestMemoryStoreOffline(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.SetOffline(true)

	assert.Error(t, s.Ping(ctx))
	assert.Error(t, s.Upsert(ctx, &Embedding{ProjectID: "p", FragmentID: "f"}))

	s.SetOffline(false)
	assert.NoError(t, s.Ping(ctx))
}
