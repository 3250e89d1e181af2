package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tobyfell/imagepress/internal/domain"
)

func TestMemoryBatchStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBatchStore()

	batch := domain.Batch{
		ID:           "b1",
		Status:       domain.BatchStatusCreated,
		OutputFormat: "webp",
		ObjectKeys:   []string{"uploads/b1/a.png"},
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.Create(ctx, batch); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, ok, err := s.Get(ctx, "b1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.BatchStatusCreated {
		t.Fatalf("unexpected status %s", got.Status)
	}

	if _, err := s.UpdateStatus(ctx, "b1", domain.BatchStatusQueued); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "b1", domain.BatchStatusProcessing); err != nil {
		t.Fatalf("process: %v", err)
	}

	files := []domain.FileRecord{
		{SourceKey: "uploads/b1/a.png", OutputName: "a.webp", OutputKey: "outputs/b1/a.webp", Success: true},
	}
	updated, err := s.SetOutcome(ctx, "b1", domain.BatchStatusCompleted, files)
	if err != nil {
		t.Fatalf("set outcome: %v", err)
	}
	if len(updated.Files) != 1 || !updated.Files[0].Success {
		t.Fatalf("unexpected files: %+v", updated.Files)
	}
}

func TestMemoryBatchStoreRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBatchStore()
	_ = s.Create(ctx, domain.Batch{ID: "b2", Status: domain.BatchStatusCreated})

	_, err := s.UpdateStatus(ctx, "b2", domain.BatchStatusCompleted)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestMemoryBatchStoreMissingBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBatchStore()

	if _, ok, _ := s.Get(ctx, "nope"); ok {
		t.Fatal("expected missing batch")
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.BatchStatusQueued); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound on delete, got %v", err)
	}
}

func TestMemoryBatchStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBatchStore()
	_ = s.Create(ctx, domain.Batch{ID: "b3", Status: domain.BatchStatusCreated})

	if err := s.Delete(ctx, "b3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "b3"); ok {
		t.Fatal("expected batch to be gone")
	}
}
