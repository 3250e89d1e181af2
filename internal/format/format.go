// Package format holds the table of supported output formats and the
// encode parameters each one carries. Adding a format is a table change,
// not a new branch at the call sites.
package format

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

const (
	NameWebP = "webp"
	NameJPEG = "jpeg"
	NamePNG  = "png"
	NameAVIF = "avif"
	NameGIF  = "gif"
)

// Spec is the parameter record for one output format.
type Spec struct {
	// Name is the canonical format name (aliases already resolved).
	Name string
	// Extension is appended to output file names. Note jpeg -> "jpg".
	Extension string
	MIME      string
	// Quality applies to lossy formats only.
	Quality int
	// FlattenAlpha means the source must be composited onto an opaque
	// white background before encoding (the format has no alpha channel).
	FlattenAlpha bool
	Lossless     bool
	// PNGCompression is a 0-9 speed/size tradeoff, not a quality knob.
	PNGCompression int
	// GIFDither enables Floyd-Steinberg dithering during palettization.
	GIFDither bool
}

// Policy maps requested format names to their encode parameters.
type Policy struct {
	specs map[string]Spec
}

// Defaults are the observed per-format quality settings. Callers that
// want different values should build the policy through NewPolicy.
const (
	DefaultWebPQuality = 82
	DefaultJPEGQuality = 85
	DefaultAVIFQuality = 55
)

type Qualities struct {
	WebP int
	JPEG int
	AVIF int
}

func NewPolicy(q Qualities) *Policy {
	if q.WebP <= 0 || q.WebP > 100 {
		q.WebP = DefaultWebPQuality
	}
	if q.JPEG <= 0 || q.JPEG > 100 {
		q.JPEG = DefaultJPEGQuality
	}
	if q.AVIF <= 0 || q.AVIF > 100 {
		q.AVIF = DefaultAVIFQuality
	}

	specs := map[string]Spec{
		NameWebP: {Name: NameWebP, Extension: "webp", MIME: "image/webp", Quality: q.WebP},
		NameJPEG: {Name: NameJPEG, Extension: "jpg", MIME: "image/jpeg", Quality: q.JPEG, FlattenAlpha: true},
		NamePNG:  {Name: NamePNG, Extension: "png", MIME: "image/png", Lossless: true, PNGCompression: 6},
		NameAVIF: {Name: NameAVIF, Extension: "avif", MIME: "image/avif", Quality: q.AVIF},
		NameGIF:  {Name: NameGIF, Extension: "gif", MIME: "image/gif", Lossless: true, GIFDither: true},
	}
	return &Policy{specs: specs}
}

func DefaultPolicy() *Policy {
	return NewPolicy(Qualities{})
}

// Normalize maps a user-supplied format name to its canonical form.
// It does not check support; Lookup does that.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "jpg" {
		return NameJPEG
	}
	return name
}

// Lookup resolves a format name (case-insensitive, jpg aliased to jpeg)
// to its encode parameters.
func (p *Policy) Lookup(name string) (Spec, error) {
	spec, ok := p.specs[Normalize(name)]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return spec, nil
}

// Supported reports whether name resolves to a known format.
func (p *Policy) Supported(name string) bool {
	_, ok := p.specs[Normalize(name)]
	return ok
}

// Names returns the canonical supported format names.
func (p *Policy) Names() []string {
	return []string{NameWebP, NameJPEG, NamePNG, NameAVIF, NameGIF}
}
