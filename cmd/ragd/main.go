package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ragcore/internal/app"
	"ragcore/internal/httputil"
	"ragcore/internal/pipeline"
	"ragcore/internal/queue"
	"ragcore/internal/registry"
	"ragcore/internal/retrieval"
)

func main() {
	deps, err := app.Build()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}

	r := httputil.NewRouter(deps.Log)
	r.Route("/api/rag", func(r chi.Router) {
		r.Post("/upload", uploadHandler(deps))
		r.Get("/status/{id}", statusHandler(deps))
		r.Post("/query", queryHandler(deps))
		r.Get("/documents", listDocumentsHandler(deps))
		r.Get("/documents/{id}", documentDetailHandler(deps))
		r.Delete("/documents/{id}", deleteDocumentHandler(deps))
		r.Get("/stats", statsHandler(deps))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	g, ctx := errgroup.WithContext(context.Background())

	// Background worker drives accepted documents through the pipeline.
	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeProcess, processTaskHandler(deps))
	})

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", deps.Config.Port)
		deps.Log.Info("ragd listening", "addr", addr)
		return http.ListenAndServe(addr, r)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("service stopped", "err", err)
	}
}

// processTaskHandler decodes a process task and runs the pipeline. Process
// captures stage failures into the document's status itself; an error here
// means the task was malformed or the document unknown.
func processTaskHandler(deps app.Deps) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		docID, err := uuid.Parse(string(task.Payload))
		if err != nil {
			return fmt.Errorf("bad process task payload: %w", err)
		}
		return deps.Pipeline.Process(ctx, docID)
	}
}

func uploadHandler(deps app.Deps) http.HandlerFunc {
	maxSize := deps.Config.MaxUploadSize

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if r.ContentLength > maxSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxSize), nil, http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxSize+1)

		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.Fail(deps.Log, w, "file is required", err, http.StatusBadRequest)
			return
		}
		defer file.Close()

		if header.Size > maxSize {
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxSize), nil, http.StatusRequestEntityTooLarge)
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read file", err, http.StatusInternalServerError)
			return
		}

		rec, err := deps.Pipeline.Ingest(ctx, content, header.Filename)
		switch {
		case errors.Is(err, registry.ErrUnsupportedType):
			httputil.Fail(deps.Log, w, "unsupported file type (allowed: txt, md, html, pdf, docx)", err, http.StatusBadRequest)
			return
		case errors.Is(err, pipeline.ErrTooLarge):
			httputil.Fail(deps.Log, w, fmt.Sprintf("file too large (max %d bytes)", maxSize), err, http.StatusRequestEntityTooLarge)
			return
		case err != nil:
			httputil.Fail(deps.Log, w, "failed to accept upload", err, http.StatusInternalServerError)
			return
		}

		task := queue.Task{Type: queue.TaskTypeProcess, Payload: []byte(rec.ID.String())}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			markAcceptFailed(ctx, deps, rec.ID, "failed to schedule processing")
			httputil.Fail(deps.Log, w, "failed to schedule processing; please retry the upload", err, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"success":     true,
			"document_id": rec.ID.String(),
			"filename":    rec.OriginalName,
			"status":      rec.Status,
			"message":     "upload accepted, processing scheduled",
		})
	}
}

// markAcceptFailed moves a document that was accepted but never scheduled
// into the failed state, so it does not sit at uploading forever.
func markAcceptFailed(ctx context.Context, deps app.Deps, id uuid.UUID, reason string) {
	if _, err := deps.Registry.UpdateStatus(ctx, id, registry.Transition{
		To:           registry.StatusFailed,
		ErrorMessage: reason,
	}); err != nil {
		deps.Log.Error("failed to mark document failed", "document_id", id, "err", err)
	}
	deps.Pipeline.Tracker().Set(pipeline.ProcessingStatus{
		DocumentID: id,
		Status:     registry.StatusFailed,
		Progress:   0,
		Message:    reason,
	})
}

func statusHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		st, ok := deps.Pipeline.Tracker().Get(docID)
		if !ok {
			httputil.Fail(deps.Log, w, "document not found", nil, http.StatusNotFound)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"document_id": st.DocumentID.String(),
			"status":      st.Status,
			"progress":    st.Progress,
			"message":     st.Message,
			"chunk_count": st.ChunkCount,
		})
	}
}

type queryRequest struct {
	Query               string   `json:"query" validate:"required,min=1,max=1000"`
	DocumentIDs         []string `json:"document_ids" validate:"omitempty,dive,uuid4"`
	TopK                int      `json:"top_k" validate:"omitempty,min=1,max=100"`
	SimilarityThreshold *float64 `json:"similarity_threshold" validate:"omitempty,gte=0,lte=1"`
}

func queryHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		threshold := deps.Config.SimilarityThreshold
		if req.SimilarityThreshold != nil {
			threshold = *req.SimilarityThreshold
		}
		topK := req.TopK
		if topK == 0 {
			topK = deps.Config.DefaultTopK
		}

		resp, err := deps.Retriever.Query(r.Context(), retrieval.Request{
			Query:       req.Query,
			DocumentIDs: req.DocumentIDs,
			TopK:        topK,
			Threshold:   threshold,
		})
		if err != nil {
			httputil.Fail(deps.Log, w, "query failed", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func listDocumentsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Registry.List(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to list documents", err, http.StatusInternalServerError)
			return
		}

		docs := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			progress := 0
			if st, ok := deps.Pipeline.Tracker().Get(rec.ID); ok {
				progress = st.Progress
			}
			docs = append(docs, map[string]any{
				"id":            rec.ID.String(),
				"filename":      rec.OriginalName,
				"file_size":     rec.Size,
				"file_type":     rec.Type,
				"status":        rec.Status,
				"upload_time":   rec.UploadedAt.Format(time.RFC3339),
				"chunk_count":   rec.ChunkCount,
				"progress":      progress,
				"error_message": rec.ErrorMessage,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

const chunkPreviewLimit = 5

func documentDetailHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		rec, err := deps.Registry.Get(r.Context(), docID)
		if errors.Is(err, registry.ErrNotFound) {
			httputil.Fail(deps.Log, w, "document not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load document", err, http.StatusInternalServerError)
			return
		}

		progress, message := 0, ""
		if st, ok := deps.Pipeline.Tracker().Get(docID); ok {
			progress, message = st.Progress, st.Message
		}

		chunks := deps.Retriever.ChunksForDocument(docID)
		if len(chunks) > chunkPreviewLimit {
			chunks = chunks[:chunkPreviewLimit]
		}
		preview := make([]map[string]any, 0, len(chunks))
		for _, c := range chunks {
			preview = append(preview, map[string]any{
				"chunk_id":    c.ChunkID,
				"content":     c.Content,
				"chunk_index": c.ChunkIndex,
				"start_pos":   c.Start,
				"end_pos":     c.End,
				"length":      c.Length,
			})
		}

		var processedAt any
		if !rec.ProcessedAt.IsZero() {
			processedAt = rec.ProcessedAt.Format(time.RFC3339)
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"document": map[string]any{
				"id":            rec.ID.String(),
				"filename":      rec.OriginalName,
				"file_size":     rec.Size,
				"file_type":     rec.Type,
				"status":        rec.Status,
				"upload_time":   rec.UploadedAt.Format(time.RFC3339),
				"process_time":  processedAt,
				"chunk_count":   rec.ChunkCount,
				"error_message": rec.ErrorMessage,
			},
			"processing": map[string]any{
				"progress": progress,
				"message":  message,
			},
			"chunks": preview,
		})
	}
}

func deleteDocumentHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		docID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httputil.Fail(deps.Log, w, "invalid document id", err, http.StatusBadRequest)
			return
		}
		rec, err := deps.Registry.Get(ctx, docID)
		if errors.Is(err, registry.ErrNotFound) {
			httputil.Fail(deps.Log, w, "document not found", err, http.StatusNotFound)
			return
		}
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to load document", err, http.StatusInternalServerError)
			return
		}

		// Artifact first, then vectors, then the record; a crash mid-way
		// leaves only a record pointing at nothing rather than orphaned
		// vectors.
		if err := deps.Blobs.Delete(ctx, rec.StoredName); err != nil {
			deps.Log.Warn("failed to delete artifact", "document_id", docID, "err", err)
		}
		removed := deps.Retriever.DeleteDocument(ctx, docID)
		if err := deps.Registry.Delete(ctx, docID); err != nil {
			httputil.Fail(deps.Log, w, "failed to delete document record", err, http.StatusInternalServerError)
			return
		}
		deps.Pipeline.Tracker().Remove(docID)

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"message":        "document deleted",
			"chunks_removed": removed,
		})
	}
}

func statsHandler(deps app.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Retriever.Stats(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to collect stats", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, stats)
	}
}
