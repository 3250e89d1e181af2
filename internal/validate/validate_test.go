package validate

import (
	"bytes"
	"errors"
	"image"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestEmptyFile(t *testing.T) {
	v := New(Limits{MaxFileSizeBytes: 1 << 20})
	err := v.File("b.png", "image/png", nil)
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestNotAnImage(t *testing.T) {
	v := New(Limits{MaxFileSizeBytes: 1 << 20})
	err := v.File("notes.txt", "text/plain", []byte("hello"))
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("expected ErrNotAnImage, got %v", err)
	}
}

func TestSizeCeilingIsInclusive(t *testing.T) {
	const limit = 64
	v := New(Limits{MaxFileSizeBytes: limit})

	atLimit := make([]byte, limit)
	if err := v.File("ok.png", "image/png", atLimit); err != nil {
		t.Fatalf("file at exactly the limit should pass, got %v", err)
	}

	overLimit := make([]byte, limit+1)
	err := v.File("big.png", "image/png", overLimit)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("MB")) {
		t.Fatalf("size error should mention MB, got %q", err.Error())
	}
}

func TestDimensionCeiling(t *testing.T) {
	data := pngBytes(t, 10, 10)

	under := New(Limits{MaxFileSizeBytes: 1 << 20, MaxPixels: 100})
	if err := under.File("ok.png", "image/png", data); err != nil {
		t.Fatalf("100 pixels within limit should pass, got %v", err)
	}

	over := New(Limits{MaxFileSizeBytes: 1 << 20, MaxPixels: 50})
	err := over.File("big.png", "image/png", data)
	if !errors.Is(err, ErrDimensionsTooLarge) {
		t.Fatalf("expected ErrDimensionsTooLarge, got %v", err)
	}
}

func TestUnreadableMetadata(t *testing.T) {
	v := New(Limits{MaxFileSizeBytes: 1 << 20, MaxPixels: 100})
	err := v.File("junk.png", "image/png", []byte("definitely not an image"))
	if !errors.Is(err, ErrMetadataUnreadable) {
		t.Fatalf("expected ErrMetadataUnreadable, got %v", err)
	}
}

func TestDimensionCheckDisabled(t *testing.T) {
	// With MaxPixels unset the header is never decoded, so undecodable
	// bytes with an image content type pass validation.
	v := New(Limits{MaxFileSizeBytes: 1 << 20})
	if err := v.File("junk.png", "image/png", []byte("opaque bytes")); err != nil {
		t.Fatalf("expected pass with dimension check disabled, got %v", err)
	}
}
