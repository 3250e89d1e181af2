package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tobyfell/imagepress/internal/batch"
	"github.com/tobyfell/imagepress/internal/config"
	"github.com/tobyfell/imagepress/internal/domain"
	"github.com/tobyfell/imagepress/internal/queue"
	"github.com/tobyfell/imagepress/internal/storage"
	"github.com/tobyfell/imagepress/internal/store"
	"github.com/tobyfell/imagepress/internal/webhook"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     *batch.Processor
	storage       objectStore
	webhookClient webhookSender
	batches       store.BatchStore
	metrics       *metrics
	tracer        trace.Tracer
}

type objectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	processor *batch.Processor,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	batches store.BatchStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("batch processor is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:     processor,
		storage:       storageClient,
		webhookClient: webhookClient,
		batches:       batches,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imagepress/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertBatch, s.handleConvertBatch)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertBatch(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	finalStatus := domain.BatchStatusFailed

	payload, err := queue.ParseConvertBatchPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert_batch", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("batch.id", payload.BatchID),
		attribute.String("batch.output_format", payload.OutputFormat),
		attribute.Int("batch.files", len(payload.ObjectKeys)),
	)
	defer span.End()
	defer func() {
		s.metrics.batchDuration.WithLabelValues(finalStatus).Observe(time.Since(startedAt).Seconds())
		s.metrics.batchesTotal.WithLabelValues(finalStatus).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeBatches.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeBatches.Dec()
	}()

	s.logger.Printf(
		"Working... batch_id=%s output_format=%s files=%d",
		payload.BatchID,
		payload.OutputFormat,
		len(payload.ObjectKeys),
	)

	s.updateBatchStatus(ctx, payload.BatchID, domain.BatchStatusProcessing)

	records, err := s.processBatch(ctx, payload)
	if err != nil {
		s.updateBatchStatus(ctx, payload.BatchID, domain.BatchStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch conversion failed")
		s.dispatchWebhook(ctx, payload, "batch.failed", map[string]any{
			"batch_id":      payload.BatchID,
			"status":        domain.BatchStatusFailed,
			"output_format": payload.OutputFormat,
			"requested_at":  payload.RequestedAt,
			"failed_at":     time.Now().UTC(),
			"error":         err.Error(),
		})
		// An unsupported format cannot become supported on retry.
		return fmt.Errorf("convert batch: %v: %w", err, asynq.SkipRetry)
	}

	succeeded, failed := 0, 0
	for _, record := range records {
		if record.Success {
			succeeded++
			s.metrics.outputBytesTotal.Add(float64(record.Bytes))
		} else {
			failed++
		}
	}
	s.metrics.filesTotal.WithLabelValues("success").Add(float64(succeeded))
	s.metrics.filesTotal.WithLabelValues("failure").Add(float64(failed))

	finalStatus = batchStatus(succeeded, failed)
	if _, err := s.batches.SetOutcome(ctx, payload.BatchID, finalStatus, records); err != nil {
		s.logger.Printf("record outcome failed batch_id=%s err=%v", payload.BatchID, err)
	}

	s.logger.Printf("Processed batch_id=%s status=%s succeeded=%d failed=%d",
		payload.BatchID, finalStatus, succeeded, failed)

	event := "batch.completed"
	if finalStatus == domain.BatchStatusFailed {
		event = "batch.failed"
	}
	if err := s.dispatchWebhook(ctx, payload, event, map[string]any{
		"batch_id":      payload.BatchID,
		"status":        finalStatus,
		"output_format": payload.OutputFormat,
		"requested_at":  payload.RequestedAt,
		"completed_at":  time.Now().UTC(),
		"files":         records,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	span.SetStatus(codes.Ok, "processed")
	return nil
}

// processBatch fetches every source, runs the conversion, and writes
// outputs back to object storage. The returned records follow the
// payload's object key order; the error is batch-level only.
func (s *Server) processBatch(ctx context.Context, payload queue.ConvertBatchPayload) ([]domain.FileRecord, error) {
	type source struct {
		key  string
		name string
	}

	req := batch.Request{OutputFormat: payload.OutputFormat}
	var sources []source
	fetchFailures := make(map[string]string, len(payload.ObjectKeys))
	for _, key := range payload.ObjectKeys {
		name := path.Base(key)
		data, err := s.storage.ReadObject(ctx, key)
		if err != nil {
			s.logger.Printf("fetch source failed batch_id=%s key=%s err=%v", payload.BatchID, key, err)
			fetchFailures[key] = "fetch source: " + err.Error()
			continue
		}
		sources = append(sources, source{key: key, name: name})
		req.Files = append(req.Files, batch.File{
			Name:        name,
			ContentType: http.DetectContentType(data),
			Data:        data,
		})
	}

	var outcome batch.Outcome
	if len(req.Files) > 0 {
		var err error
		outcome, err = s.processor.Process(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	// Both outcome partitions preserve submission order, so a cursor
	// walk reassembles one record per source.
	records := make([]domain.FileRecord, 0, len(payload.ObjectKeys))
	ri, ei := 0, 0
	si := 0
	for _, key := range payload.ObjectKeys {
		if reason, ok := fetchFailures[key]; ok {
			records = append(records, domain.FileRecord{
				SourceKey:  key,
				SourceName: path.Base(key),
				Error:      reason,
			})
			continue
		}

		src := sources[si]
		si++
		if ri < len(outcome.Results) && outcome.Results[ri].SourceName == src.name {
			result := outcome.Results[ri]
			ri++
			outputKey := storage.OutputKey(payload.BatchID, result.OutputName)
			if err := s.storage.WriteObject(ctx, outputKey, result.Data, result.MIME); err != nil {
				s.logger.Printf("write output failed batch_id=%s key=%s err=%v", payload.BatchID, outputKey, err)
				records = append(records, domain.FileRecord{
					SourceKey:  src.key,
					SourceName: src.name,
					Error:      "write output: " + err.Error(),
				})
				continue
			}
			records = append(records, domain.FileRecord{
				SourceKey:  src.key,
				SourceName: src.name,
				OutputName: result.OutputName,
				OutputKey:  outputKey,
				Bytes:      len(result.Data),
				Success:    true,
			})
			continue
		}

		failure := outcome.Errors[ei]
		ei++
		records = append(records, domain.FileRecord{
			SourceKey:  src.key,
			SourceName: src.name,
			Error:      failure.Reason,
		})
	}

	return records, nil
}

func batchStatus(succeeded, failed int) string {
	switch {
	case succeeded == 0:
		return domain.BatchStatusFailed
	case failed > 0:
		return domain.BatchStatusCompletedWithError
	default:
		return domain.BatchStatusCompleted
	}
}

func (s *Server) updateBatchStatus(ctx context.Context, batchID, status string) {
	if s.batches == nil {
		return
	}
	if _, err := s.batches.UpdateStatus(ctx, batchID, status); err != nil {
		s.logger.Printf("batch status update failed batch_id=%s status=%s err=%v", batchID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertBatchPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed batch_id=%s event=%s err=%v", payload.BatchID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
