package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type is a supported document type, keyed by file extension.
type Type string

const (
	TypeText     Type = "txt"
	TypeMarkdown Type = "md"
	TypeHTML     Type = "html"
	TypePDF      Type = "pdf"
	TypeDOCX     Type = "docx"
)

var (
	ErrNotFound          = errors.New("document not found")
	ErrAlreadyExists     = errors.New("document already exists")
	ErrUnsupportedType   = errors.New("unsupported document type")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ParseType maps a filename's extension onto the closed type set.
func ParseType(filename string) (Type, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch t := Type(ext); t {
	case TypeText, TypeMarkdown, TypeHTML, TypePDF, TypeDOCX:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
}

// Record is the registry's view of one document. The registry is its sole
// owner; other components read records but never mutate them in place.
type Record struct {
	ID           uuid.UUID
	OriginalName string
	StoredName   string
	Size         int64
	Type         Type
	Status       Status
	ErrorMessage string
	ChunkCount   int
	UploadedAt   time.Time
	ProcessedAt  time.Time
}

// Transition requests a status change. ChunkCount is honored only when
// moving to completed; ErrorMessage is required when moving to failed and
// forbidden otherwise.
type Transition struct {
	To           Status
	ChunkCount   int
	ErrorMessage string
}

// Validate checks the transition payload independent of the current state.
func (tr Transition) Validate() error {
	switch tr.To {
	case StatusProcessing, StatusCompleted:
		if tr.ErrorMessage != "" {
			return fmt.Errorf("%w: %s must not carry an error message", ErrInvalidTransition, tr.To)
		}
	case StatusFailed:
		if tr.ErrorMessage == "" {
			return fmt.Errorf("%w: failed requires an error message", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: cannot transition to %q", ErrInvalidTransition, tr.To)
	}
	return nil
}

// Allowed reports whether the state machine permits moving from one status
// to another. Completed and failed are terminal.
func Allowed(from, to Status) bool {
	switch from {
	case StatusUploading:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Registry owns document records and their lifecycle. UpdateStatus is the
// only mutation path for status; callers never write a status directly.
type Registry interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context) ([]Record, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, tr Transition) (Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
