package store

import (
	"context"
	"errors"

	"github.com/tobyfell/imagepress/internal/domain"
)

var ErrBatchNotFound = errors.New("batch not found")

type BatchStore interface {
	Create(ctx context.Context, batch domain.Batch) error
	Get(ctx context.Context, id string) (domain.Batch, bool, error)
	// UpdateStatus moves a batch along its lifecycle; transitions not
	// allowed by domain.CanTransition fail with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id, status string) (domain.Batch, error)
	// SetOutcome records the terminal status together with the
	// per-file results in one step.
	SetOutcome(ctx context.Context, id, status string, files []domain.FileRecord) (domain.Batch, error)
	// Delete removes the batch record; missing batches return
	// ErrBatchNotFound.
	Delete(ctx context.Context, id string) error
}
