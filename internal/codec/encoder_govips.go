//go:build govips && cgo

package codec

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/tobyfell/imagepress/internal/format"
)

type govipsEncoder struct{}

func (govipsEncoder) Encode(ctx context.Context, src []byte, spec format.Spec) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(src)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if spec.FlattenAlpha && img.HasAlpha() {
		if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
			return nil, fmt.Errorf("flatten alpha: %w", err)
		}
	}

	switch spec.Name {
	case format.NameJPEG:
		params := vips.NewJpegExportParams()
		if spec.Quality > 0 && spec.Quality <= 100 {
			params.Quality = spec.Quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case format.NamePNG:
		params := vips.NewPngExportParams()
		if spec.PNGCompression >= 0 && spec.PNGCompression <= 9 {
			params.Compression = spec.PNGCompression
		}
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case format.NameWebP:
		params := vips.NewWebpExportParams()
		if spec.Quality > 0 && spec.Quality <= 100 {
			params.Quality = spec.Quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case format.NameAVIF:
		params := vips.NewAvifExportParams()
		if spec.Quality > 0 && spec.Quality <= 100 {
			params.Quality = spec.Quality
		}
		data, _, err := img.ExportAvif(params)
		if err != nil {
			return nil, fmt.Errorf("encode avif: %w", err)
		}
		return data, nil
	case format.NameGIF:
		params := vips.NewGifExportParams()
		params.Dither = 0
		if spec.GIFDither {
			params.Dither = 1
		}
		data, _, err := img.ExportGIF(params)
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", spec.Name)
	}
}
