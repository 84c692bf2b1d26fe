// Package app assembles the download and display pipeline from configuration.
package app

import (
	"errors"
	"fmt"

	"github.com/lgulliver/upturn/internal/common"
	"github.com/lgulliver/upturn/internal/fetcher"
	"github.com/lgulliver/upturn/internal/history"
	"github.com/lgulliver/upturn/internal/imagestore"
	"github.com/lgulliver/upturn/internal/metrics"
	"github.com/lgulliver/upturn/internal/storage"
	"github.com/lgulliver/upturn/internal/tasks"
	"github.com/lgulliver/upturn/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// App holds the wired services
type App struct {
	Config  *config.Config
	DB      *common.Database
	Cache   *common.Cache
	Blobs   storage.BlobStorage
	History *history.Service
	Fetcher *fetcher.Fetcher
	Tracker *tasks.DownloadTracker
	Images  *imagestore.Store
	Display *tasks.DisplayScheduler
	Metrics *metrics.Pipeline
}

// New connects to the ledger database and Redis when enabled, then wires the pipeline
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	db, err := common.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	var cache *common.Cache
	if cfg.Redis.Enabled {
		cache, err = common.NewCache(&cfg.Redis)
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	a, err := Assemble(cfg, db, cache, reg)
	if err != nil {
		if cache != nil {
			cache.Close()
		}
		db.Close()
		return nil, err
	}
	return a, nil
}

// Assemble wires the pipeline around an open database. A nil cache keeps
// download status in memory.
func Assemble(cfg *config.Config, db *common.Database, cache *common.Cache, reg prometheus.Registerer) (*App, error) {
	pipeline, err := metrics.NewPipeline(reg)
	if err != nil {
		return nil, err
	}

	blobs, err := storage.NewStorageFactory(&cfg.Storage).CreateStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ledger := history.NewService(db.DB)

	var probe fetcher.NetworkProbe
	if cfg.Fetcher.ProbeAddress != "" {
		probe = fetcher.DialProbe{Address: cfg.Fetcher.ProbeAddress, Timeout: cfg.Fetcher.ProbeTimeout}
	}
	f := fetcher.New(
		fetcher.NewHTTPTransport(cfg.Fetcher.Timeout, cfg.Fetcher.UserAgent),
		blobs,
		fetcher.Options{
			Extension: cfg.Fetcher.Extension,
			Probe:     probe,
			Recorder:  ledger,
			Metrics:   pipeline,
		},
	)

	var statuses tasks.StatusStore
	if cache != nil {
		statuses = tasks.NewRedisStatusStore(cache)
	} else {
		statuses = tasks.NewMemoryStatusStore(cfg.Fetcher.TrackedHandles)
	}

	images := imagestore.New(blobs, imagestore.Options{
		MaxPixels: cfg.Image.MaxPixels,
		Metrics:   pipeline,
	})

	log.Info().
		Str("storage", cfg.Storage.LocalPath).
		Bool("redis", cache != nil).
		Int64("decode_workers", cfg.Image.DecodeWorkers).
		Msg("pipeline assembled")

	return &App{
		Config:  cfg,
		DB:      db,
		Cache:   cache,
		Blobs:   blobs,
		History: ledger,
		Fetcher: f,
		Tracker: tasks.NewDownloadTracker(f, statuses, pipeline),
		Images:  images,
		Display: tasks.NewDisplayScheduler(images, cfg.Image.DecodeWorkers, pipeline),
		Metrics: pipeline,
	}, nil
}

// Close waits for running work, then releases connections
func (a *App) Close() error {
	var errs []error
	if err := a.Tracker.Close(); err != nil {
		errs = append(errs, err)
	}
	a.Display.Close()
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
