// Package pipeline drives uploaded documents from raw bytes to indexed,
// queryable chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ragcore/internal/chunker"
	"ragcore/internal/embeddings"
	"ragcore/internal/extract"
	"ragcore/internal/index"
	"ragcore/internal/registry"
	"ragcore/internal/storage"
)

// ErrTooLarge rejects uploads over the configured size cap. Distinct from
// registry.ErrUnsupportedType so the boundary can answer 413 vs 400.
var ErrTooLarge = errors.New("payload too large")

// Pipeline orchestrates ingestion: accept, persist, extract, chunk, embed,
// index, and track progress. Ingest is the synchronous accept step;
// Process runs in the background, one invocation per document.
type Pipeline struct {
	log      *slog.Logger
	registry registry.Registry
	blobs    storage.Store
	index    *index.Index
	embedder embeddings.Embedder
	tracker  *Tracker

	maxSize   int64
	chunkOpts chunker.Options
}

// New wires a pipeline. chunkOpts are validated on first use; maxSize caps
// accepted payloads in bytes.
func New(log *slog.Logger, reg registry.Registry, blobs storage.Store, ix *index.Index,
	embedder embeddings.Embedder, tracker *Tracker, maxSize int64, chunkOpts chunker.Options) *Pipeline {
	return &Pipeline{
		log:       log,
		registry:  reg,
		blobs:     blobs,
		index:     ix,
		embedder:  embedder,
		tracker:   tracker,
		maxSize:   maxSize,
		chunkOpts: chunkOpts,
	}
}

// Tracker exposes the progress tracker for the status boundary.
func (p *Pipeline) Tracker() *Tracker { return p.tracker }

// Ingest validates and accepts an upload: type check, size check, durable
// persist, registry record at uploading/0. It returns before any
// processing happens; errors here surface to the caller and leave no
// record behind.
func (p *Pipeline) Ingest(ctx context.Context, content []byte, filename string) (registry.Record, error) {
	docType, err := registry.ParseType(filename)
	if err != nil {
		return registry.Record{}, err
	}
	if p.maxSize > 0 && int64(len(content)) > p.maxSize {
		return registry.Record{}, fmt.Errorf("%w: %d bytes exceeds cap of %d", ErrTooLarge, len(content), p.maxSize)
	}

	id := uuid.New()
	rec := registry.Record{
		ID:           id,
		OriginalName: filename,
		StoredName:   fmt.Sprintf("%s.%s", id, docType),
		Size:         int64(len(content)),
		Type:         docType,
		Status:       registry.StatusUploading,
	}

	if err := p.blobs.Put(ctx, rec.StoredName, content); err != nil {
		return registry.Record{}, fmt.Errorf("persist artifact: %w", err)
	}
	if err := p.registry.Create(ctx, rec); err != nil {
		// Roll back the artifact so a failed accept leaves nothing behind.
		if delErr := p.blobs.Delete(ctx, rec.StoredName); delErr != nil {
			p.log.Error("failed to remove artifact after create failure", "document_id", id, "err", delErr)
		}
		return registry.Record{}, fmt.Errorf("create document record: %w", err)
	}

	p.tracker.Set(ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusUploading,
		Progress:   0,
		Message:    "upload accepted, waiting for processing",
	})
	return rec, nil
}

// Process drives one document to a terminal state. Any stage failure is
// captured into the record and tracker, never returned as a processing
// error; the returned error covers invalid invocations only (unknown id,
// document not in uploading state).
func (p *Pipeline) Process(ctx context.Context, id uuid.UUID) error {
	log := p.log.With("document_id", id)

	rec, err := p.registry.Get(ctx, id)
	if err != nil {
		return err
	}
	rec, err = p.registry.UpdateStatus(ctx, id, registry.Transition{To: registry.StatusProcessing})
	if err != nil {
		// Already processing or terminal; Process runs at most once.
		return err
	}
	p.tracker.Set(ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusProcessing,
		Progress:   10,
		Message:    "extracting text",
	})

	content, err := p.blobs.Get(ctx, rec.StoredName)
	if err != nil {
		p.fail(ctx, id, fmt.Errorf("read artifact: %w", err))
		return nil
	}
	text, err := extract.Text(rec.Type, content)
	if err != nil {
		p.fail(ctx, id, fmt.Errorf("extract text: %w", err))
		return nil
	}

	chunks, err := chunker.Split(text, p.chunkOpts)
	if err != nil {
		p.fail(ctx, id, fmt.Errorf("chunk text: %w", err))
		return nil
	}

	p.tracker.Set(ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusProcessing,
		Progress:   50,
		Message:    "generating embeddings",
	})

	entries := make([]index.Entry, 0, len(chunks))
	for _, c := range chunks {
		vec, err := p.embedder.Embed(ctx, c.Text)
		if err != nil {
			p.fail(ctx, id, fmt.Errorf("embed chunk %d: %w", c.Index, err))
			return nil
		}
		entries = append(entries, index.Entry{
			ChunkID:    fmt.Sprintf("%s_chunk_%d", id, c.Index),
			DocumentID: id,
			ChunkIndex: c.Index,
			Content:    c.Text,
			Start:      c.Start,
			End:        c.End,
			Length:     c.Length,
			Vector:     vec,
		})
	}
	if err := p.index.Insert(entries); err != nil {
		p.fail(ctx, id, fmt.Errorf("index chunks: %w", err))
		return nil
	}

	if _, err := p.registry.UpdateStatus(ctx, id, registry.Transition{
		To:         registry.StatusCompleted,
		ChunkCount: len(chunks),
	}); err != nil {
		p.fail(ctx, id, fmt.Errorf("mark completed: %w", err))
		return nil
	}
	p.tracker.Set(ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusCompleted,
		Progress:   100,
		Message:    "processing complete",
		ChunkCount: len(chunks),
	})
	log.Info("document processed", "chunks", len(chunks))
	return nil
}

// fail records a terminal failure and removes any index entries the run may
// have inserted, so no orphaned vectors outlive a non-completed document.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, cause error) {
	p.log.Error("document processing failed", "document_id", id, "err", cause)

	if removed := p.index.DeleteByDocument(id); removed > 0 {
		p.log.Warn("removed partial index entries after failure", "document_id", id, "chunks", removed)
	}

	if _, err := p.registry.UpdateStatus(ctx, id, registry.Transition{
		To:           registry.StatusFailed,
		ErrorMessage: cause.Error(),
	}); err != nil {
		p.log.Error("failed to mark document failed", "document_id", id, "err", err)
	}
	p.tracker.Set(ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusFailed,
		Progress:   0,
		Message:    cause.Error(),
	})
}
