package queue

import (
	"testing"
	"time"
)

func TestConvertBatchTaskRoundTrip(t *testing.T) {
	payload := ConvertBatchPayload{
		BatchID:      "batch-123",
		ObjectKeys:   []string{"uploads/batch-123/a.png", "uploads/batch-123/b.jpg"},
		OutputFormat: "webp",
		RequestedAt:  time.Now().UTC(),
	}

	task, err := NewConvertBatchTask(payload)
	if err != nil {
		t.Fatalf("NewConvertBatchTask returned error: %v", err)
	}
	if task.Type() != TypeConvertBatch {
		t.Fatalf("expected task type %s, got %s", TypeConvertBatch, task.Type())
	}

	parsed, err := ParseConvertBatchPayload(task)
	if err != nil {
		t.Fatalf("ParseConvertBatchPayload returned error: %v", err)
	}

	if parsed.BatchID != payload.BatchID {
		t.Fatalf("expected batch_id %q, got %q", payload.BatchID, parsed.BatchID)
	}
	if len(parsed.ObjectKeys) != 2 {
		t.Fatalf("expected two object keys, got %d", len(parsed.ObjectKeys))
	}
	if parsed.OutputFormat != "webp" {
		t.Fatalf("expected webp, got %s", parsed.OutputFormat)
	}
}
