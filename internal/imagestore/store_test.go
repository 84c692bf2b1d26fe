package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lgulliver/upturn/internal/storage"
	"github.com/lgulliver/upturn/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestLoadForDisplay_ScaledAndRotated(t *testing.T) {
	blobs := setupStorage(t)
	ref := storePNG(t, blobs, "1700000000000.png", patternRaster(400, 300))
	store := New(blobs, Options{})
	ctx := context.Background()

	tests := []struct {
		name        string
		targetWidth int
		factor      int
		width       int
		height      int
	}{
		{name: "target 150 halves", targetWidth: 150, factor: 2, width: 200, height: 150},
		{name: "target 100 quarters", targetWidth: 100, factor: 4, width: 100, height: 75},
		{name: "no target keeps full size", targetWidth: 0, factor: 1, width: 400, height: 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := store.Load(ctx, ref, false, tt.targetWidth)
			require.NoError(t, err)
			assert.Equal(t, tt.factor, plain.SampleFactor)
			assert.Equal(t, Bounds{Width: 400, Height: 300, Format: "png"}, plain.Source)

			rotated, err := store.LoadForDisplay(ctx, ref, true, tt.targetWidth)
			require.NoError(t, err)
			require.Equal(t, image.Rect(0, 0, tt.width, tt.height), rotated.Bounds())
			require.Equal(t, plain.Raster.Bounds(), rotated.Bounds())

			w, h := tt.width, tt.height
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					if plain.Raster.RGBAAt(w-1-x, h-1-y) != rotated.RGBAAt(x, y) {
						t.Fatalf("pixel (%d,%d) does not match source (%d,%d)", x, y, w-1-x, h-1-y)
					}
				}
			}
		})
	}
}

func TestLoadForDisplay_FullSizeMatchesSource(t *testing.T) {
	blobs := setupStorage(t)
	src := patternRaster(17, 11)
	ref := storePNG(t, blobs, "full.png", src)

	raster, err := New(blobs, Options{}).LoadForDisplay(context.Background(), ref, false, -1)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, raster.Pix)
}

func TestLoadForDisplay_Formats(t *testing.T) {
	blobs := setupStorage(t)
	ctx := context.Background()
	src := patternRaster(64, 32)

	var jpegBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpegBuf, src, &jpeg.Options{Quality: 90}))
	require.NoError(t, blobs.Store(ctx, "photo.png", &jpegBuf, "image/jpeg"))

	paletted := image.NewPaletted(image.Rect(0, 0, 64, 32), color.Palette{color.Black, color.White})
	var gifBuf bytes.Buffer
	require.NoError(t, gif.Encode(&gifBuf, paletted, nil))
	require.NoError(t, blobs.Store(ctx, "anim.png", &gifBuf, "image/gif"))

	var bmpBuf bytes.Buffer
	require.NoError(t, bmp.Encode(&bmpBuf, src))
	require.NoError(t, blobs.Store(ctx, "bitmap.png", &bmpBuf, "image/bmp"))

	webpFile, err := os.Open(filepath.Join("testdata", "gopher.lossless.webp"))
	require.NoError(t, err)
	defer webpFile.Close()
	require.NoError(t, blobs.Store(ctx, "gopher.png", webpFile, "image/webp"))

	store := New(blobs, Options{})

	tests := []struct {
		name        string
		format      string
		targetWidth int
		factor      int
		width       int
		height      int
	}{
		{name: "photo.png", format: "jpeg", targetWidth: 16, factor: 4, width: 16, height: 8},
		{name: "anim.png", format: "gif", targetWidth: 16, factor: 4, width: 16, height: 8},
		{name: "anim.png", format: "gif", targetWidth: 17, factor: 2, width: 32, height: 16},
		{name: "bitmap.png", format: "bmp", targetWidth: 16, factor: 4, width: 16, height: 8},
		{name: "gopher.png", format: "webp", targetWidth: 30, factor: 2, width: 37, height: 50},
		{name: "gopher.png", format: "webp", targetWidth: 0, factor: 1, width: 75, height: 100},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.format, tt.targetWidth), func(t *testing.T) {
			bounds, err := store.Bounds(ctx, types.BlobRef(tt.name))
			require.NoError(t, err)
			assert.Equal(t, tt.format, bounds.Format)

			res, err := store.Load(ctx, types.BlobRef(tt.name), true, tt.targetWidth)
			require.NoError(t, err)
			assert.Equal(t, tt.factor, res.SampleFactor)
			assert.Equal(t, image.Rect(0, 0, tt.width, tt.height), res.Raster.Bounds())
		})
	}
}

func TestLoadForDisplay_Errors(t *testing.T) {
	blobs := setupStorage(t)
	ctx := context.Background()
	require.NoError(t, blobs.Store(ctx, "corrupt.png", strings.NewReader("definitely not an image"), "image/png"))

	var truncated bytes.Buffer
	require.NoError(t, png.Encode(&truncated, patternRaster(50, 50)))
	require.NoError(t, blobs.Store(ctx, "truncated.png", bytes.NewReader(truncated.Bytes()[:truncated.Len()/2]), "image/png"))

	storePNG(t, blobs, "huge.png", patternRaster(100, 100))

	store := New(blobs, Options{MaxPixels: 5000})

	tests := []struct {
		name string
		ref  types.BlobRef
		want error
	}{
		{name: "missing blob", ref: "missing.png", want: ErrBlobNotFound},
		{name: "path traversal", ref: "../missing.png", want: ErrBlobNotFound},
		{name: "corrupt blob", ref: "corrupt.png", want: ErrDecodeFailed},
		{name: "truncated blob", ref: "truncated.png", want: ErrDecodeFailed},
		{name: "over pixel budget", ref: "huge.png", want: ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raster, err := store.LoadForDisplay(ctx, tt.ref, true, 10)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, raster)
		})
	}
}

func TestLoad_NotFoundWrapsStorageError(t *testing.T) {
	_, err := New(setupStorage(t), Options{}).Bounds(context.Background(), "missing.png")
	assert.ErrorIs(t, err, ErrBlobNotFound)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLoad_CancelledContext(t *testing.T) {
	blobs := setupStorage(t)
	ref := storePNG(t, blobs, "img.png", patternRaster(8, 8))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(blobs, Options{}).Load(ctx, ref, false, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad_DoesNotMutateBlob(t *testing.T) {
	blobs := setupStorage(t)
	ref := storePNG(t, blobs, "img.png", patternRaster(40, 30))
	before := readAll(t, blobs, ref)

	_, err := New(blobs, Options{}).LoadForDisplay(context.Background(), ref, true, 10)
	require.NoError(t, err)

	assert.Equal(t, before, readAll(t, blobs, ref))
}

func TestBounds(t *testing.T) {
	blobs := setupStorage(t)
	ref := storePNG(t, blobs, "img.png", patternRaster(123, 45))

	bounds, err := New(blobs, Options{}).Bounds(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, Bounds{Width: 123, Height: 45, Format: "png"}, bounds)
	assert.Equal(t, int64(123*45), bounds.Pixels())
}

func TestEncodePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, patternRaster(9, 4)))

	cfg, format, err := image.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 9, cfg.Width)
	assert.Equal(t, 4, cfg.Height)
}

// Helpers

func setupStorage(t testing.TB) *storage.LocalStorage {
	blobs, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return blobs
}

func storePNG(t testing.TB, blobs storage.BlobStorage, name string, img image.Image) types.BlobRef {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, blobs.Store(context.Background(), name, &buf, "image/png"))
	return types.BlobRef(name)
}

func readAll(t *testing.T, blobs storage.BlobStorage, ref types.BlobRef) []byte {
	r, err := blobs.Retrieve(context.Background(), ref.String())
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	return buf.Bytes()
}
