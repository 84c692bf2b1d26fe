// Package history keeps the ledger of finished downloads.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/lgulliver/upturn/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultLimit caps Recent when the caller asks for no limit
const DefaultLimit = 50

// ErrNotFound is returned when no ledger row matches
var ErrNotFound = errors.New("download record not found")

// Service reads and writes download records
type Service struct {
	db *gorm.DB
}

// NewService creates a new history service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Record inserts one finished download
func (s *Service) Record(ctx context.Context, rec *types.DownloadRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}

	log.Debug().
		Str("id", rec.ID.String()).
		Str("url", rec.URL).
		Str("status", string(rec.Status)).
		Msg("download recorded")
	return nil
}

// Recent returns up to limit records, newest first
func (s *Service) Recent(ctx context.Context, limit int) ([]types.DownloadRecord, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	records := []types.DownloadRecord{}
	if err := s.db.WithContext(ctx).
		Order("finished_at DESC").
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	return records, nil
}

// FindByBlob returns the record that produced ref
func (s *Service) FindByBlob(ctx context.Context, ref types.BlobRef) (*types.DownloadRecord, error) {
	var rec types.DownloadRecord
	err := s.db.WithContext(ctx).
		Where("blob_ref = ?", ref).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to find download: %w", err)
	}
	return &rec, nil
}

// Stats counts succeeded and failed downloads and the bytes stored
func (s *Service) Stats(ctx context.Context) (*types.DownloadStats, error) {
	var rows []struct {
		Status string
		Count  int64
		Bytes  int64
	}
	if err := s.db.WithContext(ctx).
		Model(&types.DownloadRecord{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(bytes), 0) AS bytes").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to compute download stats: %w", err)
	}

	stats := &types.DownloadStats{}
	for _, row := range rows {
		switch types.DownloadStatus(row.Status) {
		case types.DownloadSucceeded:
			stats.Succeeded = row.Count
		case types.DownloadFailed:
			stats.Failed = row.Count
		}
		stats.TotalBytes += row.Bytes
	}
	return stats, nil
}
