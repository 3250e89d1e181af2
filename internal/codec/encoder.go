// Package codec wraps the external image library behind a single
// encode call: source bytes in, target-format bytes out. Everything
// pixel-level happens on the other side of this boundary.
package codec

import (
	"context"

	"github.com/tobyfell/imagepress/internal/format"
)

type Encoder interface {
	// Encode decodes src and re-encodes it according to spec. The
	// source format is sniffed from the bytes, never from the name.
	Encode(ctx context.Context, src []byte, spec format.Spec) ([]byte, error)
}

// New returns the encoder for this build: libvips when compiled with
// the govips tag, a pure-Go fallback otherwise.
func New() (Encoder, error) {
	return newEncoder()
}
