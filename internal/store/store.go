// Package store defines the record store the operation handlers run
// against, and an in-memory implementation of it.
package store

import (
	"context"

	"taskrpc/internal/remoteerr"
)

// Record is one row of a model, keyed by field name.
type Record = map[string]any

var (
	ErrNotFound        = remoteerr.NewKind("taskrpc.store", "DoesNotExist", remoteerr.ErrLookup)
	ErrMultipleObjects = remoteerr.NewKind("taskrpc.store", "MultipleObjectsReturned", remoteerr.ErrLookup)
	ErrModelNotFound   = remoteerr.NewKind("taskrpc.store", "ModelNotFound", remoteerr.ErrImport)
	ErrValidation      = remoteerr.NewKind("taskrpc.store", "ValidationError", remoteerr.ErrValue)
	ErrField           = remoteerr.NewKind("taskrpc.store", "FieldError", remoteerr.ErrException)
)

// Query selects records of one model. Filters and Exclude map lookups like
// "id", "id__in" or "title__startswith" to values; a record is kept when it
// matches every filter and does not match every exclude lookup.
type Query struct {
	Filters map[string]any
	Exclude map[string]any
	// OrderBy lists field names, "-" reverses one.
	OrderBy []string
	Offset  int
	// Limit of zero means no limit.
	Limit int
}

// Store performs data operations. Writes issued with a context obtained
// inside Atomic belong to that scope and are undone if it fails.
type Store interface {
	Filter(ctx context.Context, model string, q Query) ([]Record, error)
	Get(ctx context.Context, model, field string, value any) (Record, error)
	Create(ctx context.Context, model string, data Record) (Record, error)
	Update(ctx context.Context, model, field string, value any, data Record) (Record, error)
	Delete(ctx context.Context, model, field string, value any) error
	PrimaryKey(model string) (string, error)
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}
