//go:build !govips || !cgo

package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp"

	"github.com/tobyfell/imagepress/internal/format"
)

type stdlibEncoder struct{}

func (stdlibEncoder) Encode(ctx context.Context, src []byte, spec format.Spec) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	if spec.FlattenAlpha {
		img = flattenWhite(img)
	}

	var buf bytes.Buffer
	switch spec.Name {
	case format.NameJPEG:
		quality := spec.Quality
		if quality <= 0 || quality > 100 {
			quality = format.DefaultJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case format.NamePNG:
		encoder := png.Encoder{CompressionLevel: pngLevel(spec.PNGCompression)}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case format.NameGIF:
		opts := &gif.Options{NumColors: 256}
		if spec.GIFDither {
			opts.Drawer = draw.FloydSteinberg
		}
		if err := gif.Encode(&buf, img, opts); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case format.NameWebP, format.NameAVIF:
		return nil, fmt.Errorf("%s encode requires the govips build", spec.Name)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", spec.Name)
	}

	return buf.Bytes(), nil
}

// pngLevel maps the 0-9 policy scale onto the stdlib encoder's
// coarser levels.
func pngLevel(compression int) png.CompressionLevel {
	switch {
	case compression <= 3:
		return png.BestSpeed
	case compression >= 8:
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// flattenWhite composites src onto an opaque white background. JPEG
// has no alpha channel, so transparent sources must be flattened
// before encoding.
func flattenWhite(src image.Image) image.Image {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)
	return dst
}
