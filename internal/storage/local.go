package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCopyBufferSize is the chunk size used when streaming into a blob
const DefaultCopyBufferSize = 32 * 1024

// LocalStorage implements BlobStorage as one flat directory of blobs
type LocalStorage struct {
	basePath   string
	bufferSize int
	mutex      sync.RWMutex
}

// NewLocalStorage creates a new local storage instance
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	return NewLocalStorageWithBuffer(basePath, DefaultCopyBufferSize)
}

// NewLocalStorageWithBuffer creates a local storage that copies in chunks of bufferSize bytes
func NewLocalStorageWithBuffer(basePath string, bufferSize int) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Error().Err(err).Str("path", basePath).Msg("failed to create storage directory")
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = DefaultCopyBufferSize
	}

	log.Info().Str("path", basePath).Int("buffer_size", bufferSize).Msg("local storage initialized")
	return &LocalStorage{
		basePath:   basePath,
		bufferSize: bufferSize,
	}, nil
}

// BasePath returns the directory blobs are stored in
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// ValidateName checks that name is a plain file name inside the blob folder
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Store saves content to the blob folder
func (ls *LocalStorage) Store(ctx context.Context, name string, content io.Reader, contentType string) error {
	_, err := ls.StoreWithResult(ctx, name, content, contentType)
	return err
}

// StoreWithResult streams content into a uniquely named temp file in
// fixed-size chunks, then renames it into place. The copy runs without the
// storage lock, so a slow body never blocks readers or other writers. A failed
// copy leaves no blob behind.
func (ls *LocalStorage) StoreWithResult(ctx context.Context, name string, content io.Reader, contentType string) (StoreResult, error) {
	startTime := time.Now()

	if err := ValidateName(name); err != nil {
		return StoreResult{}, err
	}

	select {
	case <-ctx.Done():
		return StoreResult{}, ctx.Err()
	default:
	}

	fullPath := filepath.Join(ls.basePath, name)

	tempFile, err := os.CreateTemp(ls.basePath, name+".tmp.*")
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to create temporary file")
		return StoreResult{}, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		tempFile.Close()
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	multiWriter := io.MultiWriter(tempFile, hasher)

	buf := make([]byte, ls.bufferSize)
	bytesWritten, err := io.CopyBuffer(multiWriter, &contextReader{ctx: ctx, r: content}, buf)
	if err != nil {
		log.Error().Err(err).Str("name", name).Int64("bytes_written", bytesWritten).Msg("failed to write content to temporary file")
		return StoreResult{}, fmt.Errorf("failed to write content: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to sync temporary file")
		return StoreResult{}, fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to close temporary file")
		return StoreResult{}, fmt.Errorf("failed to close temporary file: %w", err)
	}

	ls.mutex.Lock()
	err = os.Rename(tempPath, fullPath)
	ls.mutex.Unlock()
	if err != nil {
		log.Error().Err(err).Str("name", name).Str("temp_path", tempPath).Msg("failed to move temporary file to final location")
		return StoreResult{}, fmt.Errorf("failed to move file to final location: %w", err)
	}

	checksum := hex.EncodeToString(hasher.Sum(nil))

	log.Info().
		Str("name", name).
		Str("content_type", contentType).
		Int64("bytes_written", bytesWritten).
		Str("checksum", checksum).
		Dur("duration", time.Since(startTime)).
		Msg("blob stored successfully")

	return StoreResult{Bytes: bytesWritten, Checksum: checksum}, nil
}

// Retrieve opens the named blob for reading. The caller closes it.
func (ls *LocalStorage) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	file, err := os.Open(filepath.Join(ls.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("name", name).Msg("blob not found")
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		log.Error().Err(err).Str("name", name).Msg("failed to open blob")
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	return file, nil
}

// Delete removes the named blob. Deleting a missing blob is not an error.
func (ls *LocalStorage) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := os.Remove(filepath.Join(ls.basePath, name)); err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("name", name).Msg("blob already deleted or does not exist")
			return nil
		}
		log.Error().Err(err).Str("name", name).Msg("failed to delete blob")
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	log.Info().Str("name", name).Msg("blob deleted")
	return nil
}

// Exists checks if the named blob exists
func (ls *LocalStorage) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	_, err := os.Stat(filepath.Join(ls.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		log.Error().Err(err).Str("name", name).Msg("failed to check blob existence")
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}

	return true, nil
}

// GetSize returns the size of the named blob
func (ls *LocalStorage) GetSize(ctx context.Context, name string) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}

	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	info, err := os.Stat(filepath.Join(ls.basePath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		log.Error().Err(err).Str("name", name).Msg("failed to get blob info")
		return 0, fmt.Errorf("failed to get blob info: %w", err)
	}

	return info.Size(), nil
}

// List returns the names of blobs starting with prefix, sorted by name.
// In-progress temp files are skipped.
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(ls.basePath)
	if err != nil {
		log.Error().Err(err).Str("prefix", prefix).Msg("failed to list blobs")
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() || strings.Contains(entry.Name(), ".tmp.") {
			continue
		}
		if strings.HasPrefix(entry.Name(), prefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	log.Debug().Str("prefix", prefix).Int("count", len(names)).Msg("blobs listed")
	return names, nil
}

// contextReader stops a copy once ctx is cancelled
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
