// Package batch drives validation and conversion for a set of
// independent image files. One file's failure never aborts its
// siblings: a batch of N files always yields exactly N outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tobyfell/imagepress/internal/codec"
	"github.com/tobyfell/imagepress/internal/format"
	"github.com/tobyfell/imagepress/internal/validate"
)

var ErrNoFiles = errors.New("no files provided")

const genericFailureMessage = "failed to process this file"

// File is one source image queued for conversion.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Request is one batch submission: an ordered file set and a single
// target format applied to every file.
type Request struct {
	Files        []File
	OutputFormat string
}

// Success is the outcome for a file that converted cleanly.
type Success struct {
	SourceName string
	OutputName string
	MIME       string
	Data       []byte
}

// Failure is the outcome for a file rejected by validation or the
// codec. Reason is user-facing text.
type Failure struct {
	SourceName string
	Reason     string
}

// Outcome partitions a batch's per-file results, each slice ordered
// by original submission order.
type Outcome struct {
	Results []Success
	Errors  []Failure
}

func (o Outcome) Total() int {
	return len(o.Results) + len(o.Errors)
}

type Processor struct {
	policy      *format.Policy
	validator   *validate.Validator
	encoder     codec.Encoder
	parallelism int
}

// NewProcessor builds a batch processor. parallelism caps how many
// files convert at once; values below 1 mean sequential.
func NewProcessor(policy *format.Policy, validator *validate.Validator, encoder codec.Encoder, parallelism int) *Processor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Processor{
		policy:      policy,
		validator:   validator,
		encoder:     encoder,
		parallelism: parallelism,
	}
}

// ValidateRequest runs the request-level checks that reject a batch
// before any per-file work: an empty file set or an unsupported
// target format. Per-file problems are never request-level.
func (p *Processor) ValidateRequest(req Request) (format.Spec, error) {
	if len(req.Files) == 0 {
		return format.Spec{}, ErrNoFiles
	}
	return p.policy.Lookup(req.OutputFormat)
}

// Process converts every file in the request. The returned error is
// request-level only; per-file failures land in Outcome.Errors.
func (p *Processor) Process(ctx context.Context, req Request) (Outcome, error) {
	spec, err := p.ValidateRequest(req)
	if err != nil {
		return Outcome{}, err
	}

	type slot struct {
		success Success
		failure Failure
		ok      bool
	}
	slots := make([]slot, len(req.Files))

	sem := make(chan struct{}, p.parallelism)
	var wg sync.WaitGroup
	for i, file := range req.Files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, file File) {
			defer wg.Done()
			defer func() { <-sem }()

			out, err := p.convertOne(ctx, file, spec)
			if err != nil {
				slots[i] = slot{failure: Failure{
					SourceName: file.Name,
					Reason:     failureReason(err),
				}}
				return
			}
			slots[i] = slot{success: out, ok: true}
		}(i, file)
	}
	wg.Wait()

	// Index-addressed slots keep both partitions in submission order
	// regardless of completion order.
	outcome := Outcome{}
	for _, s := range slots {
		if s.ok {
			outcome.Results = append(outcome.Results, s.success)
		} else {
			outcome.Errors = append(outcome.Errors, s.failure)
		}
	}
	return outcome, nil
}

// convertOne isolates one file's validation and encode. A panic in
// the decoder is contained here so a corrupt image cannot take down
// the batch.
func (p *Processor) convertOne(ctx context.Context, file File, spec format.Spec) (out Success, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("conversion panicked: %v", r)
		}
	}()

	select {
	case <-ctx.Done():
		return Success{}, ctx.Err()
	default:
	}

	if err := p.validator.File(file.Name, file.ContentType, file.Data); err != nil {
		return Success{}, err
	}

	data, err := p.encoder.Encode(ctx, file.Data, spec)
	if err != nil {
		return Success{}, err
	}

	return Success{
		SourceName: file.Name,
		OutputName: OutputName(file.Name, spec),
		MIME:       spec.MIME,
		Data:       data,
	}, nil
}

func failureReason(err error) string {
	if err == nil || strings.TrimSpace(err.Error()) == "" {
		return genericFailureMessage
	}
	return err.Error()
}

// OutputName derives the output file name: the source extension is
// dropped, the base sanitized to [A-Za-z0-9_-], and the format's
// canonical extension appended.
func OutputName(sourceName string, spec format.Spec) string {
	base := strings.TrimSuffix(sourceName, filepath.Ext(sourceName))
	return sanitizeNameToken(base) + "." + spec.Extension
}

func sanitizeNameToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "file"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
