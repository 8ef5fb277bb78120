package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragcore/internal/cache"
	"ragcore/internal/chunker"
	"ragcore/internal/embeddings"
	"ragcore/internal/index"
	"ragcore/internal/pipeline"
	"ragcore/internal/registry"
	"ragcore/internal/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCache is an in-memory Cache for exercising the caching path without a
// Redis server.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[key], nil
}

func (c *memCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = payload
	return nil
}

func (c *memCache) InvalidateDocument(context.Context, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string][]byte)
	return nil
}

func (c *memCache) Close() error { return nil }

func entry(docID uuid.UUID, idx int, content string, vec embeddings.Vector) index.Entry {
	return index.Entry{
		ChunkID:    fmt.Sprintf("%s_chunk_%d", docID, idx),
		DocumentID: docID,
		ChunkIndex: idx,
		Content:    content,
		Vector:     vec,
	}
}

func record(id uuid.UUID, name string) registry.Record {
	return registry.Record{ID: id, OriginalName: name, StoredName: name, Type: registry.TypeText}
}

func TestQueryRanksAndJoinsMetadata(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	reg := registry.NewMemory()
	embedder := new(embeddings.MockEmbedder)
	ctx := context.Background()

	docA, docB := uuid.New(), uuid.New()
	require.NoError(t, reg.Create(ctx, record(docA, "alpha.txt")))
	require.NoError(t, reg.Create(ctx, record(docB, "beta.txt")))
	require.NoError(t, ix.Insert([]index.Entry{
		entry(docA, 0, "close match", embeddings.Vector{1, 0}),
		entry(docB, 0, "partial match", embeddings.Vector{0.7, 0.7}),
		entry(docA, 1, "orthogonal", embeddings.Vector{0, 1}),
	}))

	embedder.On("Embed", mock.Anything, "find alpha").Return(embeddings.Vector{1, 0}, nil).Once()

	c := New(discard(), ix, reg, embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(ctx, Request{Query: "find alpha", TopK: 2, Threshold: 0.5})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "close match", resp.Results[0].Content)
	assert.Equal(t, "alpha.txt", resp.Results[0].DocumentName)
	assert.Equal(t, "partial match", resp.Results[1].Content)
	assert.Equal(t, "beta.txt", resp.Results[1].DocumentName)
	assert.GreaterOrEqual(t, resp.Results[0].Similarity, resp.Results[1].Similarity)
	assert.False(t, resp.Cached)
	embedder.AssertExpectations(t)
}

func TestQueryEmptyIndexReturnsEmpty(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1, 0}, nil)

	c := New(discard(), ix, registry.NewMemory(), embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(context.Background(), Request{Query: "anything", Threshold: 0.7})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)
}

func TestQueryValidation(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	c := New(discard(), ix, registry.NewMemory(), new(embeddings.MockEmbedder), cache.NewNoOp(), time.Minute)

	_, err = c.Query(context.Background(), Request{Query: "", Threshold: 0.7})
	assert.Error(t, err, "empty query")

	_, err = c.Query(context.Background(), Request{Query: "q", Threshold: 1.5})
	assert.Error(t, err, "threshold above 1")

	_, err = c.Query(context.Background(), Request{Query: "q", Threshold: -0.1})
	assert.Error(t, err, "negative threshold")
}

func TestQueryEmbedFailure(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("port down"))

	c := New(discard(), ix, registry.NewMemory(), embedder, cache.NewNoOp(), time.Minute)
	_, err = c.Query(context.Background(), Request{Query: "q", Threshold: 0.5})
	assert.Error(t, err)
}

func TestQueryAppliesDefaultTopK(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	doc := uuid.New()
	var entries []index.Entry
	for i := 0; i < 10; i++ {
		entries = append(entries, entry(doc, i, "same", embeddings.Vector{1, 0}))
	}
	require.NoError(t, ix.Insert(entries))

	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1, 0}, nil)

	c := New(discard(), ix, registry.NewMemory(), embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(context.Background(), Request{Query: "q", Threshold: 0.0})
	require.NoError(t, err)
	assert.Len(t, resp.Results, DefaultTopK)
}

func TestQueryFilterAppliesAfterTruncation(t *testing.T) {
	// docA dominates the unfiltered top-k; filtering to docB afterwards may
	// legitimately return fewer hits than exist for docB in the index.
	ix, err := index.New(2)
	require.NoError(t, err)
	reg := registry.NewMemory()
	ctx := context.Background()

	docA, docB := uuid.New(), uuid.New()
	require.NoError(t, reg.Create(ctx, record(docA, "a.txt")))
	require.NoError(t, reg.Create(ctx, record(docB, "b.txt")))
	require.NoError(t, ix.Insert([]index.Entry{
		entry(docA, 0, "perfect A0", embeddings.Vector{1, 0}),
		entry(docA, 1, "perfect A1", embeddings.Vector{1, 0}),
		entry(docB, 0, "good B0", embeddings.Vector{0.9, 0.1}),
	}))

	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1, 0}, nil)

	c := New(discard(), ix, reg, embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(ctx, Request{
		Query:       "q",
		DocumentIDs: []string{docB.String()},
		TopK:        2,
		Threshold:   0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results, "docB hits were truncated away before the filter ran")
}

func TestQueryUnknownDocumentNameSentinel(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	doc := uuid.New()
	require.NoError(t, ix.Insert([]index.Entry{entry(doc, 0, "stale chunk", embeddings.Vector{1, 0})}))

	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1, 0}, nil)

	// Registry never saw this document: simulates deletion racing a query.
	c := New(discard(), ix, registry.NewMemory(), embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(context.Background(), Request{Query: "q", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, UnknownDocumentName, resp.Results[0].DocumentName)
}

func TestQueryCachesResponses(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	doc := uuid.New()
	require.NoError(t, ix.Insert([]index.Entry{entry(doc, 0, "cached content", embeddings.Vector{1, 0})}))

	embedder := new(embeddings.MockEmbedder)
	// A cache hit must short-circuit before the embedder is consulted.
	embedder.On("Embed", mock.Anything, "repeat me").Return(embeddings.Vector{1, 0}, nil).Once()

	c := New(discard(), ix, registry.NewMemory(), embedder, newMemCache(), time.Minute)
	req := Request{Query: "repeat me", TopK: 3, Threshold: 0.5}

	first, err := c.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := c.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	embedder.AssertExpectations(t)
}

func TestDeleteDocumentLeavesOthersIntact(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	reg := registry.NewMemory()
	ctx := context.Background()

	docA, docB := uuid.New(), uuid.New()
	require.NoError(t, reg.Create(ctx, record(docA, "a.txt")))
	require.NoError(t, reg.Create(ctx, record(docB, "b.txt")))
	require.NoError(t, ix.Insert([]index.Entry{
		entry(docA, 0, "A0", embeddings.Vector{1, 0}),
		entry(docB, 0, "B0", embeddings.Vector{1, 0}),
		entry(docB, 1, "B1", embeddings.Vector{0.8, 0.2}),
	}))

	embedder := new(embeddings.MockEmbedder)
	embedder.On("Embed", mock.Anything, mock.Anything).Return(embeddings.Vector{1, 0}, nil)

	mc := newMemCache()
	c := New(discard(), ix, reg, embedder, mc, time.Minute)

	removed := c.DeleteDocument(ctx, docA)
	assert.Equal(t, 1, removed)

	resp, err := c.Query(ctx, Request{Query: "q", TopK: 10, Threshold: 0.0})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	for _, r := range resp.Results {
		assert.Equal(t, docB.String(), r.DocumentID)
	}
	assert.Equal(t, "B0", resp.Results[0].Content, "docB ranking is unaffected")
}

func TestChunksForDocument(t *testing.T) {
	ix, err := index.New(2)
	require.NoError(t, err)
	doc := uuid.New()
	require.NoError(t, ix.Insert([]index.Entry{
		entry(doc, 1, "second", embeddings.Vector{1, 0}),
		entry(doc, 0, "first", embeddings.Vector{1, 0}),
	}))

	c := New(discard(), ix, registry.NewMemory(), new(embeddings.MockEmbedder), cache.NewNoOp(), time.Minute)
	chunks := c.ChunksForDocument(doc)
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Content)
	assert.Equal(t, "second", chunks[1].Content)
}

func TestStatsAggregation(t *testing.T) {
	ix, err := index.New(3)
	require.NoError(t, err)
	reg := registry.NewMemory()
	ctx := context.Background()

	doc := uuid.New()
	rec := record(doc, "only.txt")
	require.NoError(t, reg.Create(ctx, rec))
	require.NoError(t, ix.Insert([]index.Entry{
		entry(doc, 0, "c0", embeddings.Vector{1, 0, 0}),
		entry(doc, 1, "c1", embeddings.Vector{0, 1, 0}),
	}))

	c := New(discard(), ix, reg, new(embeddings.MockEmbedder), cache.NewNoOp(), time.Minute)
	stats, err := c.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalDocuments)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 3, stats.VectorDimension)
	require.Len(t, stats.Documents, 1)
	assert.Equal(t, "only.txt", stats.Documents[0].Name)
	assert.Equal(t, string(registry.StatusUploading), stats.Documents[0].Status)
}

// TestEndToEndIngestAndQuery runs the full path: upload, process, query a
// phrase from the middle sentence, expect its document on top.
func TestEndToEndIngestAndQuery(t *testing.T) {
	const dim = 256
	ix, err := index.New(dim)
	require.NoError(t, err)
	reg := registry.NewMemory()
	blobs, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	embedder, err := embeddings.NewHashEmbedder(dim)
	require.NoError(t, err)
	tracker := pipeline.NewTracker()
	p := pipeline.New(discard(), reg, blobs, ix, embedder, tracker, 10*1024*1024,
		chunker.Options{ChunkSize: 1000, Overlap: 200})
	ctx := context.Background()

	target := "Solar energy is captured by panels. Wind turbines convert moving air into electricity. Hydroelectric dams store potential energy."
	other := "Medieval castles were built from stone. Their walls were thick and their moats deep. Sieges could last for months."

	recA, err := p.Ingest(ctx, []byte(target), "energy.txt")
	require.NoError(t, err)
	st, ok := tracker.Get(recA.ID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusUploading, st.Status, "status is uploading immediately after accept")

	recB, err := p.Ingest(ctx, []byte(other), "castles.txt")
	require.NoError(t, err)

	require.NoError(t, p.Process(ctx, recA.ID))
	require.NoError(t, p.Process(ctx, recB.ID))

	got, err := reg.Get(ctx, recA.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusCompleted, got.Status)
	assert.GreaterOrEqual(t, got.ChunkCount, 1)

	c := New(discard(), ix, reg, embedder, cache.NewNoOp(), time.Minute)
	resp, err := c.Query(ctx, Request{Query: "wind turbines convert moving air", TopK: 1, Threshold: 0.1})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	assert.Equal(t, recA.ID.String(), resp.Results[0].DocumentID)
	assert.Equal(t, "energy.txt", resp.Results[0].DocumentName)
	assert.Greater(t, resp.Results[0].Similarity, 0.1)
}
