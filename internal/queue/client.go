package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Conversion tasks retry a few times for transient failures (Redis
// blips, storage timeouts); permanent failures return asynq.SkipRetry
// from the handler instead.
const (
	convertMaxRetry  = 3
	convertTimeout   = 10 * time.Minute
	convertRetention = 24 * time.Hour
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueConvertBatch schedules one batch conversion. Finished tasks
// are retained for a day so operators can inspect recent outcomes.
func (c *Client) EnqueueConvertBatch(ctx context.Context, payload ConvertBatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertBatchTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(convertMaxRetry),
		asynq.Timeout(convertTimeout),
		asynq.Retention(convertRetention),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
