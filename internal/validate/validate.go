// Package validate rejects unusable inputs before any codec work.
package validate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var (
	ErrEmptyFile          = errors.New("file is empty")
	ErrNotAnImage         = errors.New("file is not an image")
	ErrFileTooLarge       = errors.New("file exceeds size limit")
	ErrDimensionsTooLarge = errors.New("image dimensions exceed pixel limit")
	ErrMetadataUnreadable = errors.New("image metadata could not be read")
)

// Limits are the configured validation ceilings. A zero MaxPixels
// disables the dimension check entirely, which also skips decoding
// the image header.
type Limits struct {
	MaxFileSizeBytes int64
	MaxPixels        int64
}

type Validator struct {
	limits Limits
}

func New(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// File runs the ordered per-file checks. The first violated check
// wins; a returned error wraps the matching sentinel so callers can
// branch with errors.Is.
func (v *Validator) File(name, contentType string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, name)
	}

	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return fmt.Errorf("%w: %s has content type %q", ErrNotAnImage, name, contentType)
	}

	if v.limits.MaxFileSizeBytes > 0 && int64(len(data)) > v.limits.MaxFileSizeBytes {
		return fmt.Errorf("%w: %s is %.1f MB, limit is %.1f MB",
			ErrFileTooLarge, name, toMB(int64(len(data))), toMB(v.limits.MaxFileSizeBytes))
	}

	if v.limits.MaxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMetadataUnreadable, name, err)
		}
		pixels := int64(cfg.Width) * int64(cfg.Height)
		if pixels > v.limits.MaxPixels {
			return fmt.Errorf("%w: %s has %d pixels, limit is %d",
				ErrDimensionsTooLarge, name, pixels, v.limits.MaxPixels)
		}
	}

	return nil
}

func toMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
