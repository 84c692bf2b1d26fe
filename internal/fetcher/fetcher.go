package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lgulliver/upturn/internal/metrics"
	"github.com/lgulliver/upturn/internal/storage"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
)

// Outcome is the result of one fetch: a blob reference on success, an *Error otherwise
type Outcome struct {
	URL        string
	Ref        types.BlobRef
	Bytes      int64
	Checksum   string
	Err        *Error
	StartedAt  time.Time
	FinishedAt time.Time
}

// OK reports whether the fetch succeeded
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Record converts the outcome into a ledger row
func (o Outcome) Record() *types.DownloadRecord {
	rec := &types.DownloadRecord{
		URL:        o.URL,
		BlobRef:    o.Ref,
		Status:     types.DownloadSucceeded,
		Bytes:      o.Bytes,
		SHA256:     o.Checksum,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if o.Err != nil {
		rec.Status = types.DownloadFailed
		rec.FailureKind = string(o.Err.Kind)
		rec.HTTPStatus = o.Err.Status
		rec.Error = o.Err.Error()
	}
	return rec
}

// Recorder persists download outcomes
type Recorder interface {
	Record(ctx context.Context, rec *types.DownloadRecord) error
}

// Options configures optional fetcher collaborators
type Options struct {
	// Extension of generated blob names, DefaultExtension when empty.
	Extension string
	Probe     NetworkProbe
	Recorder  Recorder
	Metrics   *metrics.Pipeline
}

// Fetcher downloads a URL into a new blob
type Fetcher struct {
	transport Transport
	storage   storage.BlobStorage
	namer     *Namer
	probe     NetworkProbe
	recorder  Recorder
	metrics   *metrics.Pipeline
}

// New creates a fetcher that reads from transport and writes into store
func New(transport Transport, store storage.BlobStorage, opts Options) *Fetcher {
	return &Fetcher{
		transport: transport,
		storage:   store,
		namer:     NewNamer(opts.Extension),
		probe:     opts.Probe,
		recorder:  opts.Recorder,
		metrics:   opts.Metrics,
	}
}

// ValidateURL checks that raw is an absolute http(s) URL with a host
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, errors.New("url is not absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	return u, nil
}

// Fetch downloads rawURL and streams the body into a new blob. Every failure is
// reported through the returned Outcome.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Outcome {
	out := Outcome{URL: rawURL, StartedAt: time.Now()}

	log.Debug().Str("url", rawURL).Msg("starting download")

	u, err := ValidateURL(rawURL)
	if err != nil {
		out.Err = newError(KindInvalidURL, rawURL, err)
		return f.finish(ctx, out)
	}

	if f.probe != nil && !f.probe.Available(ctx) {
		out.Err = newError(KindConnectionFailed, rawURL, errors.New("network is unavailable"))
		return f.finish(ctx, out)
	}

	resp, err := f.transport.OpenGet(ctx, u.String())
	if err != nil {
		out.Err = newError(KindConnectionFailed, rawURL, err)
		return f.finish(ctx, out)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		out.Err = &Error{Kind: KindHTTPError, Status: resp.StatusCode, URL: rawURL}
		return f.finish(ctx, out)
	}

	name := f.namer.Next()
	result, err := f.storage.StoreWithResult(ctx, name.String(), resp.Body, resp.ContentType)
	if err != nil {
		out.Err = newError(KindStorageWriteFailed, rawURL, err)
		return f.finish(ctx, out)
	}

	out.Ref = name
	out.Bytes = result.Bytes
	out.Checksum = result.Checksum
	return f.finish(ctx, out)
}

func (f *Fetcher) finish(ctx context.Context, out Outcome) Outcome {
	out.FinishedAt = time.Now()
	duration := out.FinishedAt.Sub(out.StartedAt)

	if out.OK() {
		log.Info().
			Str("url", out.URL).
			Str("blob", out.Ref.String()).
			Int64("bytes", out.Bytes).
			Dur("duration", duration).
			Msg("download stored")
		f.metrics.RecordFetch("success", out.Bytes, duration)
	} else {
		log.Warn().
			Err(out.Err).
			Str("url", out.URL).
			Str("kind", string(out.Err.Kind)).
			Int("status", out.Err.Status).
			Dur("duration", duration).
			Msg("download failed")
		f.metrics.RecordFetch(string(out.Err.Kind), 0, duration)
	}

	if f.recorder != nil {
		// The ledger write must not be skipped because the fetch context ended.
		if err := f.recorder.Record(context.WithoutCancel(ctx), out.Record()); err != nil {
			log.Error().Err(err).Str("url", out.URL).Msg("failed to record download")
		}
	}

	return out
}
