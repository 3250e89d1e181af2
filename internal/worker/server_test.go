package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/tobyfell/imagepress/internal/batch"
	"github.com/tobyfell/imagepress/internal/codec"
	"github.com/tobyfell/imagepress/internal/domain"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/queue"
	"github.com/tobyfell/imagepress/internal/validate"
)

type fakeObjectStore struct {
	objects map[string][]byte
	written map[string][]byte
}

func (f *fakeObjectStore) ReadObject(_ context.Context, objectKey string) ([]byte, error) {
	data, ok := f.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("no such object: %s", objectKey)
	}
	return data, nil
}

func (f *fakeObjectStore) WriteObject(_ context.Context, objectKey string, data []byte, _ string) error {
	if f.written == nil {
		f.written = make(map[string][]byte)
	}
	f.written[objectKey] = data
	return nil
}

func testProcessor(t *testing.T) *batch.Processor {
	t.Helper()
	enc, err := codec.New()
	if err != nil {
		t.Fatalf("build encoder: %v", err)
	}
	return batch.NewProcessor(
		format.DefaultPolicy(),
		validate.New(validate.Limits{MaxFileSizeBytes: 1 << 20}),
		enc,
		2,
	)
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 80, B: 120, A: 255})
		}
	}
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestProcessBatchWritesOutputs(t *testing.T) {
	storage := &fakeObjectStore{objects: map[string][]byte{
		"uploads/b-1/a.png": testPNG(t),
		"uploads/b-1/b.png": testPNG(t),
	}}
	s := &Server{
		logger:    log.New(io.Discard, "", 0),
		processor: testProcessor(t),
		storage:   storage,
		metrics:   newMetrics(),
	}

	records, err := s.processBatch(context.Background(), queue.ConvertBatchPayload{
		BatchID:      "b-1",
		ObjectKeys:   []string{"uploads/b-1/a.png", "uploads/b-1/b.png"},
		OutputFormat: "jpg",
	})
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	for i, want := range []string{"a.jpg", "b.jpg"} {
		record := records[i]
		if !record.Success {
			t.Fatalf("record %d failed: %s", i, record.Error)
		}
		if record.OutputName != want {
			t.Fatalf("record %d: expected output name %s, got %s", i, want, record.OutputName)
		}
		wantKey := "outputs/b-1/" + want
		if record.OutputKey != wantKey {
			t.Fatalf("record %d: expected output key %s, got %s", i, wantKey, record.OutputKey)
		}
		data, ok := storage.written[wantKey]
		if !ok || len(data) == 0 {
			t.Fatalf("record %d: output %s was not written", i, wantKey)
		}
		if record.Bytes != len(data) {
			t.Fatalf("record %d: recorded %d bytes, wrote %d", i, record.Bytes, len(data))
		}
	}
}

func TestProcessBatchIsolatesMissingSource(t *testing.T) {
	storage := &fakeObjectStore{objects: map[string][]byte{
		"uploads/b-2/ok.png": testPNG(t),
	}}
	s := &Server{
		logger:    log.New(io.Discard, "", 0),
		processor: testProcessor(t),
		storage:   storage,
		metrics:   newMetrics(),
	}

	records, err := s.processBatch(context.Background(), queue.ConvertBatchPayload{
		BatchID:      "b-2",
		ObjectKeys:   []string{"uploads/b-2/missing.png", "uploads/b-2/ok.png"},
		OutputFormat: "png",
	})
	if err != nil {
		t.Fatalf("process batch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].Success || !strings.Contains(records[0].Error, "fetch source") {
		t.Fatalf("expected fetch failure for first record, got %+v", records[0])
	}
	if !records[1].Success || records[1].OutputName != "ok.png" {
		t.Fatalf("expected success for second record, got %+v", records[1])
	}
}

func TestProcessBatchRejectsUnsupportedFormat(t *testing.T) {
	storage := &fakeObjectStore{objects: map[string][]byte{
		"uploads/b-3/a.png": testPNG(t),
	}}
	s := &Server{
		logger:    log.New(io.Discard, "", 0),
		processor: testProcessor(t),
		storage:   storage,
		metrics:   newMetrics(),
	}

	_, err := s.processBatch(context.Background(), queue.ConvertBatchPayload{
		BatchID:      "b-3",
		ObjectKeys:   []string{"uploads/b-3/a.png"},
		OutputFormat: "tiff",
	})
	if err == nil {
		t.Fatal("expected batch-level error for unsupported format")
	}
	if len(storage.written) != 0 {
		t.Fatalf("expected no outputs written, got %d", len(storage.written))
	}
}

func TestBatchStatus(t *testing.T) {
	cases := []struct {
		succeeded int
		failed    int
		want      string
	}{
		{succeeded: 3, failed: 0, want: domain.BatchStatusCompleted},
		{succeeded: 2, failed: 1, want: domain.BatchStatusCompletedWithError},
		{succeeded: 0, failed: 3, want: domain.BatchStatusFailed},
		{succeeded: 0, failed: 0, want: domain.BatchStatusFailed},
	}
	for _, tc := range cases {
		if got := batchStatus(tc.succeeded, tc.failed); got != tc.want {
			t.Fatalf("batchStatus(%d, %d) = %s, want %s", tc.succeeded, tc.failed, got, tc.want)
		}
	}
}
