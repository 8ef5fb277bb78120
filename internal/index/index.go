package index

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ragcore/internal/embeddings"
)

// ErrDimensionMismatch is returned when a vector's length differs from the
// dimension fixed at index construction.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Entry is one indexed chunk: its vector plus the metadata needed to serve
// and attribute search results.
type Entry struct {
	ChunkID    string
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	Start      int
	End        int
	Length     int
	Vector     embeddings.Vector
}

// Result pairs an entry with its similarity to a query vector.
type Result struct {
	Entry
	Similarity float64
}

// Stats summarizes index contents.
type Stats struct {
	ChunkCount    int
	Dimension     int
	DocumentCount int
}

type storedEntry struct {
	Entry
	seq uint64 // insertion order, ties in search are broken by it
}

// Index is an in-memory vector index. A single RWMutex guards the entry map:
// inserts and deletes take the write lock as one atomic batch, so a
// concurrent search observes either none or all of a document's chunks.
type Index struct {
	mu      sync.RWMutex
	dim     int
	entries map[string]*storedEntry
	nextSeq uint64
}

// New creates an index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	return &Index{dim: dim, entries: make(map[string]*storedEntry)}, nil
}

// Insert adds entries as one atomic batch. Re-inserting a chunk id replaces
// its data but keeps its original insertion rank. The whole batch is
// rejected if any vector has the wrong dimension, so a failed insert leaves
// the index untouched.
func (ix *Index) Insert(entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != ix.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, index expects %d",
				ErrDimensionMismatch, e.ChunkID, len(e.Vector), ix.dim)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range entries {
		if prev, ok := ix.entries[e.ChunkID]; ok {
			prev.Entry = e
			continue
		}
		ix.entries[e.ChunkID] = &storedEntry{Entry: e, seq: ix.nextSeq}
		ix.nextSeq++
	}
	return nil
}

// Search ranks all entries by cosine similarity against query, keeps those
// at or above threshold, and returns at most topK of them, best first. Ties
// are broken by insertion order. An empty index yields an empty result.
func (ix *Index) Search(query embeddings.Vector, topK int, threshold float64) ([]Result, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			ErrDimensionMismatch, len(query), ix.dim)
	}

	ix.mu.RLock()
	candidates := make([]storedEntry, 0, len(ix.entries))
	for _, e := range ix.entries {
		candidates = append(candidates, *e)
	}
	ix.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	results := make([]Result, 0, len(candidates))
	for _, e := range candidates {
		sim := CosineSimilarity(query, e.Vector)
		if sim >= threshold {
			results = append(results, Result{Entry: e.Entry, Similarity: sim})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })

	if topK < 0 {
		topK = 0
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument removes every entry belonging to the document and returns
// how many were removed. Entries of other documents keep their insertion
// rank.
func (ix *Index) DeleteByDocument(docID uuid.UUID) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	removed := 0
	for id, e := range ix.entries {
		if e.DocumentID == docID {
			delete(ix.entries, id)
			removed++
		}
	}
	return removed
}

// ChunksByDocument returns the document's entries ordered by chunk index.
func (ix *Index) ChunksByDocument(docID uuid.UUID) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []Entry
	for _, e := range ix.entries {
		if e.DocumentID == docID {
			out = append(out, e.Entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

// Stats reports chunk count, dimension, and how many distinct documents
// have entries.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	docs := make(map[uuid.UUID]struct{})
	for _, e := range ix.entries {
		docs[e.DocumentID] = struct{}{}
	}
	return Stats{
		ChunkCount:    len(ix.entries),
		Dimension:     ix.dim,
		DocumentCount: len(docs),
	}
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|) in float64. It is 0 when
// either vector has zero norm, never a divide-by-zero.
func CosineSimilarity(a, b embeddings.Vector) float64 {
	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
