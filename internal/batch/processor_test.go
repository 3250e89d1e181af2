package batch

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tobyfell/imagepress/internal/codec"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/validate"
)

func testProcessor(t *testing.T, parallelism int) *Processor {
	t.Helper()
	enc, err := codec.New()
	if err != nil {
		t.Fatalf("build encoder: %v", err)
	}
	return NewProcessor(
		format.DefaultPolicy(),
		validate.New(validate.Limits{MaxFileSizeBytes: 1 << 20}),
		enc,
		parallelism,
	)
}

func pngFile(t *testing.T, name string, c color.Color) File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return File{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

func TestBatchTotality(t *testing.T) {
	p := testProcessor(t, 1)
	req := Request{
		OutputFormat: "png",
		Files: []File{
			pngFile(t, "a.png", color.RGBA{R: 255, A: 255}),
			{Name: "empty.png", ContentType: "image/png"},
			pngFile(t, "c.png", color.RGBA{G: 255, A: 255}),
			{Name: "junk.png", ContentType: "image/png", Data: []byte("garbage")},
		},
	}

	outcome, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Total() != len(req.Files) {
		t.Fatalf("expected %d outcomes, got %d", len(req.Files), outcome.Total())
	}
	if len(outcome.Results) != 2 || len(outcome.Errors) != 2 {
		t.Fatalf("expected 2 successes and 2 failures, got %d/%d",
			len(outcome.Results), len(outcome.Errors))
	}
	if outcome.Results[0].SourceName != "a.png" || outcome.Results[1].SourceName != "c.png" {
		t.Fatalf("success order not preserved: %+v", outcome.Results)
	}
	if outcome.Errors[0].SourceName != "empty.png" || outcome.Errors[1].SourceName != "junk.png" {
		t.Fatalf("failure order not preserved: %+v", outcome.Errors)
	}
}

func TestFailureIsolation(t *testing.T) {
	p := testProcessor(t, 1)
	valid := []File{
		pngFile(t, "one.png", color.RGBA{R: 10, A: 255}),
		pngFile(t, "two.png", color.RGBA{G: 20, A: 255}),
	}
	corrupt := File{Name: "bad.png", ContentType: "image/png", Data: []byte("not an image")}

	mixed, err := p.Process(context.Background(), Request{
		OutputFormat: "png",
		Files:        []File{valid[0], corrupt, valid[1]},
	})
	if err != nil {
		t.Fatalf("process mixed: %v", err)
	}
	clean, err := p.Process(context.Background(), Request{OutputFormat: "png", Files: valid})
	if err != nil {
		t.Fatalf("process clean: %v", err)
	}

	if len(mixed.Results) != 2 || len(mixed.Errors) != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d",
			len(mixed.Results), len(mixed.Errors))
	}
	for i := range clean.Results {
		if !bytes.Equal(mixed.Results[i].Data, clean.Results[i].Data) {
			t.Fatalf("success %d differs between mixed and clean runs", i)
		}
	}
}

func TestOutputNaming(t *testing.T) {
	spec, err := format.DefaultPolicy().Lookup("webp")
	if err != nil {
		t.Fatalf("lookup webp: %v", err)
	}
	got := OutputName("My Photo #1.PNG", spec)
	if got != "My_Photo__1.webp" {
		t.Fatalf("expected My_Photo__1.webp, got %q", got)
	}

	jpeg, _ := format.DefaultPolicy().Lookup("jpg")
	if got := OutputName("shot.jpeg", jpeg); got != "shot.jpg" {
		t.Fatalf("expected shot.jpg, got %q", got)
	}

	if got := OutputName(".png", spec); got != "file.webp" {
		t.Fatalf("expected fallback base name, got %q", got)
	}
}

type countingEncoder struct {
	calls int64
	inner codec.Encoder
}

func (c *countingEncoder) Encode(ctx context.Context, src []byte, spec format.Spec) ([]byte, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.inner.Encode(ctx, src, spec)
}

func TestUnsupportedFormatRejectedBeforeProcessing(t *testing.T) {
	inner, _ := codec.New()
	counter := &countingEncoder{inner: inner}
	p := NewProcessor(
		format.DefaultPolicy(),
		validate.New(validate.Limits{MaxFileSizeBytes: 1 << 20}),
		counter,
		1,
	)

	_, err := p.Process(context.Background(), Request{
		OutputFormat: "bmp",
		Files:        []File{pngFile(t, "a.png", color.RGBA{A: 255})},
	})
	if !errors.Is(err, format.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
	if atomic.LoadInt64(&counter.calls) != 0 {
		t.Fatalf("expected zero codec invocations, got %d", counter.calls)
	}
}

func TestEmptyBatchRejected(t *testing.T) {
	p := testProcessor(t, 1)
	_, err := p.Process(context.Background(), Request{OutputFormat: "png"})
	if !errors.Is(err, ErrNoFiles) {
		t.Fatalf("expected ErrNoFiles, got %v", err)
	}
}

type blankError struct{}

func (blankError) Error() string { return "" }

type failingEncoder struct{ err error }

func (f failingEncoder) Encode(context.Context, []byte, format.Spec) ([]byte, error) {
	return nil, f.err
}

func TestBlankCodecErrorGetsGenericMessage(t *testing.T) {
	p := NewProcessor(
		format.DefaultPolicy(),
		validate.New(validate.Limits{MaxFileSizeBytes: 1 << 20}),
		failingEncoder{err: blankError{}},
		1,
	)

	outcome, err := p.Process(context.Background(), Request{
		OutputFormat: "png",
		Files:        []File{pngFile(t, "a.png", color.RGBA{A: 255})},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcome.Errors) != 1 {
		t.Fatalf("expected one failure, got %+v", outcome)
	}
	if outcome.Errors[0].Reason != genericFailureMessage {
		t.Fatalf("expected generic message, got %q", outcome.Errors[0].Reason)
	}
}

type panickingEncoder struct{}

func (panickingEncoder) Encode(context.Context, []byte, format.Spec) ([]byte, error) {
	panic("codec blew up")
}

func TestPanicIsContainedPerFile(t *testing.T) {
	p := NewProcessor(
		format.DefaultPolicy(),
		validate.New(validate.Limits{MaxFileSizeBytes: 1 << 20}),
		panickingEncoder{},
		1,
	)

	outcome, err := p.Process(context.Background(), Request{
		OutputFormat: "png",
		Files: []File{
			pngFile(t, "a.png", color.RGBA{A: 255}),
			pngFile(t, "b.png", color.RGBA{A: 255}),
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcome.Errors) != 2 {
		t.Fatalf("expected both files to fail, got %+v", outcome)
	}
	if !strings.Contains(outcome.Errors[0].Reason, "panicked") {
		t.Fatalf("expected panic reason, got %q", outcome.Errors[0].Reason)
	}
}

func TestEmptyFileScenario(t *testing.T) {
	p := testProcessor(t, 1)
	outcome, err := p.Process(context.Background(), Request{
		OutputFormat: "png",
		Files: []File{
			pngFile(t, "a.png", color.RGBA{B: 128, A: 255}),
			{Name: "b.png", ContentType: "image/png"},
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcome.Results) != 1 || outcome.Results[0].OutputName != "a.png" {
		t.Fatalf("unexpected results: %+v", outcome.Results)
	}
	if len(outcome.Errors) != 1 || outcome.Errors[0].SourceName != "b.png" {
		t.Fatalf("unexpected errors: %+v", outcome.Errors)
	}
	if !strings.Contains(outcome.Errors[0].Reason, "empty") {
		t.Fatalf("expected empty-file reason, got %q", outcome.Errors[0].Reason)
	}
}

func TestParallelProcessingPreservesOrder(t *testing.T) {
	p := testProcessor(t, 4)
	files := []File{
		pngFile(t, "f0.png", color.RGBA{R: 1, A: 255}),
		pngFile(t, "f1.png", color.RGBA{R: 2, A: 255}),
		pngFile(t, "f2.png", color.RGBA{R: 3, A: 255}),
		pngFile(t, "f3.png", color.RGBA{R: 4, A: 255}),
		pngFile(t, "f4.png", color.RGBA{R: 5, A: 255}),
	}

	outcome, err := p.Process(context.Background(), Request{OutputFormat: "png", Files: files})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(outcome.Results) != len(files) {
		t.Fatalf("expected %d successes, got %d", len(files), len(outcome.Results))
	}
	for i, res := range outcome.Results {
		if res.SourceName != files[i].Name {
			t.Fatalf("order broken at %d: got %s", i, res.SourceName)
		}
	}
}
