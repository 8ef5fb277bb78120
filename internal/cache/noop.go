package cache

import (
	"context"
	"time"
)

// NoOp is the fallback when no cache backend is configured. Every lookup is
// a miss and every write succeeds silently.
type NoOp struct{}

func NewNoOp() *NoOp { return &NoOp{} }

func (NoOp) Get(context.Context, string) ([]byte, error) { return nil, nil }

func (NoOp) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoOp) InvalidateDocument(context.Context, string) error { return nil }

func (NoOp) Close() error { return nil }
