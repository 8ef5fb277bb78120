// Package retrieval answers similarity queries over the vector index and
// joins hits with document metadata.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ragcore/internal/cache"
	"ragcore/internal/embeddings"
	"ragcore/internal/index"
	"ragcore/internal/registry"
)

// UnknownDocumentName labels hits whose document was deleted between
// indexing and the metadata join.
const UnknownDocumentName = "Unknown"

const (
	DefaultTopK      = 5
	DefaultThreshold = 0.7
)

// Request holds query parameters. A zero TopK means DefaultTopK; Threshold
// must already be resolved by the caller (the HTTP boundary applies
// DefaultThreshold for omitted values, since 0 is a legal threshold).
type Request struct {
	Query       string
	DocumentIDs []string
	TopK        int
	Threshold   float64
}

// Result is one ranked hit, joined with display metadata.
type Result struct {
	ChunkID      string  `json:"chunk_id"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	Start        int     `json:"start_pos"`
	End          int     `json:"end_pos"`
	Length       int     `json:"length"`
}

// Response is a complete query answer.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Total   int      `json:"total_results"`
	Elapsed float64  `json:"processing_time"` // seconds
	Cached  bool     `json:"cached"`
}

// DocumentSummary is the per-document slice of Stats.
type DocumentSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
}

// Stats aggregates index and registry counters.
type Stats struct {
	TotalDocuments  int               `json:"total_documents"`
	TotalChunks     int               `json:"total_chunks"`
	VectorDimension int               `json:"vector_dimension"`
	Documents       []DocumentSummary `json:"documents"`
}

// Coordinator orchestrates the query path.
type Coordinator struct {
	log      *slog.Logger
	index    *index.Index
	registry registry.Registry
	embedder embeddings.Embedder
	cache    cache.Cache
	cacheTTL time.Duration
}

// New wires a coordinator. cache may be a NoOp; ttl bounds cached entries.
func New(log *slog.Logger, ix *index.Index, reg registry.Registry,
	embedder embeddings.Embedder, c cache.Cache, cacheTTL time.Duration) *Coordinator {
	return &Coordinator{
		log:      log,
		index:    ix,
		registry: reg,
		embedder: embedder,
		cache:    c,
		cacheTTL: cacheTTL,
	}
}

// Query embeds the query text, searches the index, applies the document-id
// filter, and joins registry metadata. The filter runs after top-k
// truncation, so a filtered query can return fewer than TopK hits even when
// more matches exist; that mirrors the documented search contract.
func (c *Coordinator) Query(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	if req.Query == "" {
		return Response{}, fmt.Errorf("query text required")
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return Response{}, fmt.Errorf("similarity threshold %g outside [0,1]", req.Threshold)
	}

	key := cache.Key(req.Query, req.DocumentIDs, req.TopK, req.Threshold)
	if payload, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("cache lookup failed", "err", err)
	} else if payload != nil {
		var resp Response
		if uerr := json.Unmarshal(payload, &resp); uerr != nil {
			c.log.Warn("discarding undecodable cached response", "err", uerr)
		} else {
			resp.Cached = true
			return resp, nil
		}
	}

	vec, err := c.embedder.Embed(ctx, req.Query)
	if err != nil {
		return Response{}, fmt.Errorf("embed query: %w", err)
	}
	hits, err := c.index.Search(vec, req.TopK, req.Threshold)
	if err != nil {
		return Response{}, fmt.Errorf("search index: %w", err)
	}

	if len(req.DocumentIDs) > 0 {
		allowed := make(map[string]struct{}, len(req.DocumentIDs))
		for _, id := range req.DocumentIDs {
			allowed[id] = struct{}{}
		}
		filtered := hits[:0]
		for _, h := range hits {
			if _, ok := allowed[h.DocumentID.String()]; ok {
				filtered = append(filtered, h)
			}
		}
		hits = filtered
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ChunkID:      h.ChunkID,
			Content:      h.Content,
			Similarity:   h.Similarity,
			DocumentID:   h.DocumentID.String(),
			DocumentName: c.documentName(ctx, h.DocumentID),
			ChunkIndex:   h.ChunkIndex,
			Start:        h.Start,
			End:          h.End,
			Length:       h.Length,
		})
	}

	resp := Response{
		Query:   req.Query,
		Results: results,
		Total:   len(results),
		Elapsed: time.Since(start).Seconds(),
	}

	if payload, err := json.Marshal(resp); err == nil {
		if err := c.cache.Set(ctx, key, payload, c.cacheTTL); err != nil {
			c.log.Warn("failed to cache query response", "err", err)
		}
	}
	return resp, nil
}

// documentName resolves display metadata; a concurrently deleted document
// degrades to a sentinel instead of failing the query.
func (c *Coordinator) documentName(ctx context.Context, id uuid.UUID) string {
	rec, err := c.registry.Get(ctx, id)
	if err != nil {
		return UnknownDocumentName
	}
	return rec.OriginalName
}

// ChunksForDocument returns all indexed chunks of a document ordered by
// chunk index.
func (c *Coordinator) ChunksForDocument(id uuid.UUID) []index.Entry {
	return c.index.ChunksByDocument(id)
}

// DeleteDocument removes the document's vectors and drops cached responses
// that might still reference them. Registry and artifact removal belong to
// the orchestrating layer.
func (c *Coordinator) DeleteDocument(ctx context.Context, id uuid.UUID) int {
	removed := c.index.DeleteByDocument(id)
	if err := c.cache.InvalidateDocument(ctx, id.String()); err != nil {
		c.log.Warn("cache invalidation failed", "document_id", id, "err", err)
	}
	return removed
}

// Stats merges index counters with registry document summaries.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	ixStats := c.index.Stats()
	records, err := c.registry.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list documents: %w", err)
	}

	docs := make([]DocumentSummary, 0, len(records))
	for _, rec := range records {
		docs = append(docs, DocumentSummary{
			ID:         rec.ID.String(),
			Name:       rec.OriginalName,
			Status:     string(rec.Status),
			ChunkCount: rec.ChunkCount,
		})
	}
	return Stats{
		TotalDocuments:  len(records),
		TotalChunks:     ixStats.ChunkCount,
		VectorDimension: ixStats.Dimension,
		Documents:       docs,
	}, nil
}
