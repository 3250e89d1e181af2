package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"

	"github.com/tobyfell/imagepress/internal/archive"
	"github.com/tobyfell/imagepress/internal/batch"
	"github.com/tobyfell/imagepress/internal/domain"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/id"
	"github.com/tobyfell/imagepress/internal/queue"
	"github.com/tobyfell/imagepress/internal/storage"
	"github.com/tobyfell/imagepress/internal/store"
)

// multipartMemoryBytes is how much of a parsed form stays in memory
// before spilling to disk.
const multipartMemoryBytes = 32 << 20

type Server struct {
	logger          *log.Logger
	processor       *batch.Processor
	policy          *format.Policy
	maxRequestBytes int64
	queueClient     queueEnqueuer
	batches         store.BatchStore
	storage         objectStorage
	presignTTL      time.Duration
	rateLimiter     RateLimiter
	rateLimitHeader string
	metrics         *metrics
	tracer          trace.Tracer
	mux             *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueConvertBatch(ctx context.Context, payload queue.ConvertBatchPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	RemoveBatch(ctx context.Context, batchID string) error
}

type Options struct {
	Processor       *batch.Processor
	Policy          *format.Policy
	MaxRequestBytes int64
	Queue           queueEnqueuer
	Batches         store.BatchStore
	Storage         objectStorage
	PresignTTL      time.Duration
	RateLimiter     RateLimiter
	RateLimitHeader string
	Tracer          trace.Tracer
}

func NewServer(logger *log.Logger, opts Options) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 100 << 20
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Policy == nil {
		opts.Policy = format.DefaultPolicy()
	}
	if opts.RateLimitHeader == "" {
		opts.RateLimitHeader = "X-User-ID"
	}

	s := &Server{
		logger:          logger,
		processor:       opts.Processor,
		policy:          opts.Policy,
		maxRequestBytes: opts.MaxRequestBytes,
		queueClient:     opts.Queue,
		batches:         opts.Batches,
		storage:         opts.Storage,
		presignTTL:      opts.PresignTTL,
		rateLimiter:     opts.RateLimiter,
		rateLimitHeader: opts.RateLimitHeader,
		metrics:         newMetrics(),
		tracer:          opts.Tracer,
		mux:             http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ReadObject(_ context.Context, _ string) ([]byte, error) {
	return nil, errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) RemoveBatch(_ context.Context, _ string) error {
	return errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.withRateLimit(handler)
	handler = s.withTracing(handler)
	handler = s.metrics.withHTTPMetrics(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /api/convert", s.handleConvertInfo)
	s.mux.HandleFunc("POST /api/convert", s.handleConvert)
	s.mux.HandleFunc("POST /v1/batches", s.handleCreateBatch)
	s.mux.HandleFunc("POST /v1/batches/{id}/start", s.handleStartBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}", s.handleGetBatch)
	s.mux.HandleFunc("DELETE /v1/batches/{id}", s.handleDeleteBatch)
	s.mux.HandleFunc("GET /v1/batches/{id}/archive", s.handleBatchArchive)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConvertInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":           "imagepress",
		"status":            "ok",
		"formats":           s.policy.Names(),
		"max_request_bytes": s.maxRequestBytes,
	})
}

type convertResult struct {
	OriginalName string `json:"originalName"`
	OutputName   string `json:"outputName"`
	DataURL      string `json:"dataUrl"`
	Success      bool   `json:"success"`
}

type convertError struct {
	OriginalName string `json:"originalName"`
	Error        string `json:"error"`
	Success      bool   `json:"success"`
}

type convertResponse struct {
	Results []convertResult `json:"results"`
	Errors  []convertError  `json:"errors"`
}

// handleConvert is the synchronous batch endpoint: multipart in,
// per-file data URIs out. Per-file failures never change the 200;
// only request-level problems get a 4xx/5xx.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("convert handler panicked: %v", rec)
			writeConvertFailure(w, http.StatusInternalServerError, "", "internal server error")
		}
	}()

	if r.ContentLength > s.maxRequestBytes {
		writeConvertFailure(w, http.StatusRequestEntityTooLarge, "",
			fmt.Sprintf("request body exceeds the %d byte limit", s.maxRequestBytes))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxRequestBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeConvertFailure(w, http.StatusRequestEntityTooLarge, "",
				fmt.Sprintf("request body exceeds the %d byte limit", maxErr.Limit))
			return
		}
		writeConvertFailure(w, http.StatusBadRequest, "", "invalid multipart request: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	outputFormat := strings.TrimSpace(r.FormValue("outputFormat"))
	if outputFormat == "" {
		outputFormat = format.NameWebP
	}
	if !s.policy.Supported(outputFormat) {
		writeConvertFailure(w, http.StatusBadRequest, "",
			fmt.Sprintf("unsupported output format %q", outputFormat))
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeConvertFailure(w, http.StatusBadRequest, "", "no files provided")
		return
	}

	req := batch.Request{OutputFormat: outputFormat}
	var readFailures []convertError
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			readFailures = append(readFailures, convertError{
				OriginalName: fh.Filename,
				Error:        "read upload: " + err.Error(),
			})
			continue
		}
		req.Files = append(req.Files, batch.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	resp := convertResponse{Results: []convertResult{}, Errors: []convertError{}}
	if len(req.Files) > 0 {
		outcome, err := s.processor.Process(r.Context(), req)
		if err != nil {
			s.logger.Printf("convert batch failed: %v", err)
			writeConvertFailure(w, http.StatusInternalServerError, "", "internal server error")
			return
		}

		for _, res := range outcome.Results {
			resp.Results = append(resp.Results, convertResult{
				OriginalName: res.SourceName,
				OutputName:   res.OutputName,
				DataURL:      dataURL(res.MIME, res.Data),
				Success:      true,
			})
		}
		for _, failure := range outcome.Errors {
			resp.Errors = append(resp.Errors, convertError{
				OriginalName: failure.SourceName,
				Error:        failure.Reason,
			})
		}
		s.metrics.filesConverted.WithLabelValues(format.Normalize(outputFormat), "success").Add(float64(len(outcome.Results)))
		s.metrics.filesConverted.WithLabelValues(format.Normalize(outputFormat), "failure").Add(float64(len(outcome.Errors)))
	}
	resp.Errors = append(resp.Errors, readFailures...)

	writeJSON(w, http.StatusOK, resp)
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.policy.Supported(req.OutputFormat) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unsupported output format %q", req.OutputFormat),
		})
		return
	}

	now := time.Now().UTC()
	batchID := id.New()

	type uploadSlot struct {
		FileName        string `json:"file_name"`
		ObjectKey       string `json:"object_key"`
		PresignedPutURL string `json:"presigned_put_url"`
	}
	uploads := make([]uploadSlot, 0, len(req.FileNames))
	objectKeys := make([]string, 0, len(req.FileNames))
	for _, name := range req.FileNames {
		key := storage.SourceKey(batchID, path.Base(strings.TrimSpace(name)))
		url, err := s.storage.PresignedPutURL(r.Context(), key, s.presignTTL)
		if err != nil {
			s.logger.Printf("generate presigned url failed for batch %s: %v", batchID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
			return
		}
		uploads = append(uploads, uploadSlot{FileName: name, ObjectKey: key, PresignedPutURL: url})
		objectKeys = append(objectKeys, key)
	}

	b := domain.Batch{
		ID:           batchID,
		Status:       domain.BatchStatusCreated,
		OutputFormat: format.Normalize(req.OutputFormat),
		ObjectKeys:   objectKeys,
		WebhookURL:   req.WebhookURL,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.batches.Create(r.Context(), b); err != nil {
		s.logger.Printf("create batch failed for batch %s: %v", b.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create batch"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":  b.ID,
		"status":    b.Status,
		"uploads":   uploads,
		"start_url": fmt.Sprintf("/v1/batches/%s/start", b.ID),
	})
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	b, ok, err := s.batches.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed for batch %s: %v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}

	for _, key := range b.ObjectKeys {
		exists, err := s.storage.ObjectExists(r.Context(), key)
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": fmt.Sprintf("source object check failed: %v", err)})
			return
		}
		if !exists {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "source object is missing: " + key})
			return
		}
	}

	if s.queueClient == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "conversion queue is unavailable"})
		return
	}

	payload := queue.ConvertBatchPayload{
		BatchID:      b.ID,
		ObjectKeys:   b.ObjectKeys,
		OutputFormat: b.OutputFormat,
		WebhookURL:   b.WebhookURL,
		RequestedAt:  time.Now().UTC(),
	}
	taskInfo, err := s.queueClient.EnqueueConvertBatch(r.Context(), payload)
	if err != nil {
		s.logger.Printf("enqueue failed for batch %s: %v", b.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue batch"})
		return
	}
	s.metrics.batchesEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.batches.UpdateStatus(r.Context(), b.ID, domain.BatchStatusQueued); err != nil {
		s.logger.Printf("update status failed for batch %s: %v", b.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":    b.ID,
		"status":      domain.BatchStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	b, ok, err := s.batches.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed for batch %s: %v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}

	files := b.Files
	if files == nil {
		files = []domain.FileRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":      b.ID,
		"status":        b.Status,
		"output_format": b.OutputFormat,
		"files":         files,
		"created_at":    b.CreatedAt,
		"updated_at":    b.UpdatedAt,
	})
}

// handleDeleteBatch removes a batch record together with its objects.
// In-flight batches cannot be deleted; the worker would keep writing
// outputs for a batch that no longer exists.
func (s *Server) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	b, ok, err := s.batches.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed for batch %s: %v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	if b.Status == domain.BatchStatusQueued || b.Status == domain.BatchStatusProcessing {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "batch is still processing"})
		return
	}

	if err := s.storage.RemoveBatch(r.Context(), b.ID); err != nil {
		s.logger.Printf("remove batch objects failed for batch %s: %v", b.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to remove batch objects"})
		return
	}
	if err := s.batches.Delete(r.Context(), b.ID); err != nil {
		s.logger.Printf("delete batch failed for batch %s: %v", b.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete batch"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleBatchArchive bundles a finished batch's outputs into one ZIP
// download.
func (s *Server) handleBatchArchive(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")

	b, ok, err := s.batches.Get(r.Context(), batchID)
	if err != nil {
		s.logger.Printf("fetch batch failed for batch %s: %v", batchID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load batch"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch not found"})
		return
	}
	if b.Status != domain.BatchStatusCompleted && b.Status != domain.BatchStatusCompletedWithError {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "batch has not finished processing"})
		return
	}

	var entries []archive.Entry
	for _, file := range b.Files {
		if !file.Success {
			continue
		}
		data, err := s.storage.ReadObject(r.Context(), file.OutputKey)
		if err != nil {
			s.logger.Printf("read output failed for batch %s key %s: %v", b.ID, file.OutputKey, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read batch outputs"})
			return
		}
		entries = append(entries, archive.Entry{Name: file.OutputName, Data: data})
	}
	if len(entries) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "batch has no successful outputs"})
		return
	}

	data, err := archive.Build(entries, nil)
	if err != nil {
		s.logger.Printf("archive build failed for batch %s: %v", b.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to build archive"})
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "batch-"+b.ID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func writeConvertFailure(w http.ResponseWriter, status int, originalName, message string) {
	writeJSON(w, status, convertResponse{
		Results: []convertResult{},
		Errors: []convertError{
			{OriginalName: originalName, Error: message},
		},
	})
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
