package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	BatchStatusCreated            = "created"
	BatchStatusQueued             = "queued"
	BatchStatusProcessing         = "processing"
	BatchStatusCompleted          = "completed"
	BatchStatusCompletedWithError = "completed_with_errors"
	BatchStatusFailed             = "failed"
)

var ErrInvalidTransition = errors.New("invalid batch status transition")

// batchTransitions encodes the batch lifecycle as an explicit state
// machine so illegal combinations (e.g. completed -> processing) are
// rejected at the store boundary instead of silently recorded.
var batchTransitions = map[string][]string{
	BatchStatusCreated:    {BatchStatusQueued, BatchStatusFailed},
	BatchStatusQueued:     {BatchStatusProcessing, BatchStatusFailed},
	BatchStatusProcessing: {BatchStatusCompleted, BatchStatusCompletedWithError, BatchStatusFailed},
}

// CanTransition reports whether a batch may move from one status to
// another. Terminal statuses have no outgoing transitions.
func CanTransition(from, to string) bool {
	for _, allowed := range batchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CreateBatchRequest is the JSON body accepted by POST /v1/batches.
// Each named file gets a presigned upload slot; conversion starts
// once the caller hits the start endpoint.
type CreateBatchRequest struct {
	FileNames    []string `json:"file_names"`
	OutputFormat string   `json:"output_format"`
	WebhookURL   string   `json:"webhook_url,omitempty"`
}

func (r CreateBatchRequest) Validate() error {
	if len(r.FileNames) == 0 {
		return errors.New("file_names must contain at least one file")
	}
	for i, name := range r.FileNames {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("file_names[%d] is empty", i)
		}
	}
	if strings.TrimSpace(r.OutputFormat) == "" {
		return errors.New("output_format is required")
	}
	return nil
}

// FileRecord is the persisted per-source outcome of an async batch.
// Output bytes live in object storage under OutputKey; only metadata
// is stored with the batch.
type FileRecord struct {
	SourceKey  string `json:"source_key"`
	SourceName string `json:"source_name"`
	OutputName string `json:"output_name,omitempty"`
	OutputKey  string `json:"output_key,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Error      string `json:"error,omitempty"`
	Success    bool   `json:"success"`
}

type Batch struct {
	ID           string
	Status       string
	OutputFormat string
	ObjectKeys   []string
	WebhookURL   string
	Files        []FileRecord
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
