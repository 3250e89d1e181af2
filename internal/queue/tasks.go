package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConvertBatch = "batch:convert"

type ConvertBatchPayload struct {
	BatchID      string    `json:"batch_id"`
	ObjectKeys   []string  `json:"object_keys"`
	OutputFormat string    `json:"output_format"`
	WebhookURL   string    `json:"webhook_url,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func NewConvertBatchTask(payload ConvertBatchPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertBatch, body), nil
}

func ParseConvertBatchPayload(task *asynq.Task) (ConvertBatchPayload, error) {
	var payload ConvertBatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertBatchPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}
