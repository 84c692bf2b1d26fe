package imagestore

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"io/fs"
	"time"

	"github.com/lgulliver/upturn/internal/metrics"
	"github.com/lgulliver/upturn/internal/storage"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
)

// Options configures a Store
type Options struct {
	// MaxPixels rejects images whose header reports more pixels. Zero disables the check.
	MaxPixels int64
	Metrics   *metrics.Pipeline
}

// Result is a decoded raster plus what was learned producing it
type Result struct {
	Raster       *image.RGBA
	Source       Bounds
	SampleFactor int
	Rotated      bool
}

// Store decodes persisted blobs for display
type Store struct {
	storage   storage.BlobStorage
	maxPixels int64
	metrics   *metrics.Pipeline
}

// New creates an image store reading from blobs
func New(blobs storage.BlobStorage, opts Options) *Store {
	return &Store{
		storage:   blobs,
		maxPixels: opts.MaxPixels,
		metrics:   opts.Metrics,
	}
}

// LoadForDisplay decodes ref scaled for targetWidth and optionally rotated
// 180 degrees. The caller owns the returned raster.
//
// The returned raster is sampled down by SampleFactor, but peak memory is not:
// the decoders have no reduced-resolution mode, so the full frame is decoded
// first and released after sampling. Options.MaxPixels is the guard against
// images too large to decode at full size.
func (s *Store) LoadForDisplay(ctx context.Context, ref types.BlobRef, rotate bool, targetWidth int) (*image.RGBA, error) {
	res, err := s.Load(ctx, ref, rotate, targetWidth)
	if err != nil {
		return nil, err
	}
	return res.Raster, nil
}

// Load runs the two-pass decode: header bounds first, then the subsampled
// pixels, then the optional rotation.
func (s *Store) Load(ctx context.Context, ref types.BlobRef, rotate bool, targetWidth int) (*Result, error) {
	start := time.Now()

	bounds, err := s.Bounds(ctx, ref)
	if err != nil {
		s.metrics.RecordDecode(resultLabel(err), 0, time.Since(start))
		return nil, err
	}

	factor := SampleFactor(bounds.Width, targetWidth)

	raster, err := s.decodePixels(ctx, ref, factor)
	if err != nil {
		s.metrics.RecordDecode(resultLabel(err), factor, time.Since(start))
		return nil, err
	}

	if rotate {
		rotated := Rotate180(raster)
		raster.Pix = nil
		raster = rotated
	}

	duration := time.Since(start)
	log.Debug().
		Str("blob", ref.String()).
		Int("width", bounds.Width).
		Int("height", bounds.Height).
		Int("sample_factor", factor).
		Int("target_width", targetWidth).
		Bool("rotate", rotate).
		Dur("duration", duration).
		Msg("image decoded")
	s.metrics.RecordDecode("success", factor, duration)

	return &Result{
		Raster:       raster,
		Source:       bounds,
		SampleFactor: factor,
		Rotated:      rotate,
	}, nil
}

// Bounds reads only the header of ref. No pixel memory is allocated.
func (s *Store) Bounds(ctx context.Context, ref types.BlobRef) (Bounds, error) {
	r, err := s.open(ctx, ref)
	if err != nil {
		return Bounds{}, err
	}
	defer r.Close()

	bounds, err := decodeBounds(r)
	if err != nil {
		return Bounds{}, classifyDecode(ref, err)
	}
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return Bounds{}, fmt.Errorf("%w: %s: empty image %dx%d", ErrDecodeFailed, ref, bounds.Width, bounds.Height)
	}
	if s.maxPixels > 0 && bounds.Pixels() > s.maxPixels {
		return Bounds{}, fmt.Errorf("%w: %s: %dx%d", ErrTooLarge, ref, bounds.Width, bounds.Height)
	}
	return bounds, nil
}

func (s *Store) decodePixels(ctx context.Context, ref types.BlobRef, factor int) (*image.RGBA, error) {
	r, err := s.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raster, err := decodeSampled(r, factor)
	if err != nil {
		return nil, classifyDecode(ref, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return raster, nil
}

func (s *Store) open(ctx context.Context, ref types.BlobRef) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := s.storage.Retrieve(ctx, ref.String())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidName):
			return nil, fmt.Errorf("%w: %s: %w", ErrBlobNotFound, ref, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %s: %w", ErrIO, ref, err)
		}
	}
	return r, nil
}

func classifyDecode(ref types.BlobRef, err error) error {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return fmt.Errorf("%w: %s: %w", ErrIO, ref, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrDecodeFailed, ref, err)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return "not_found"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrDecodeFailed):
		return "decode_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "io_error"
	}
}

// EncodePNG writes raster as a PNG
func EncodePNG(w io.Writer, raster image.Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, raster); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
