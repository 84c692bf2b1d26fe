package imagestore

import (
	"image"
	"io"

	"golang.org/x/image/draw"
)

// Bounds holds the raw dimensions of an encoded image
type Bounds struct {
	Width  int
	Height int
	Format string
}

// Pixels returns the pixel count of the full-size image
func (b Bounds) Pixels() int64 {
	return int64(b.Width) * int64(b.Height)
}

// decodeBounds reads only the image header
func decodeBounds(r io.Reader) (Bounds, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return Bounds{}, err
	}
	return Bounds{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// decodeSampled decodes r and returns an RGBA raster reduced by factor in both
// dimensions. The standard decoders have no reduced-resolution mode, so the
// full frame is decoded, sampled with a nearest-neighbour scaler and dropped
// before returning.
func decodeSampled(r io.Reader, factor int) (*image.RGBA, error) {
	src, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	defer release(src)

	sb := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, sampledSize(sb.Dx(), factor), sampledSize(sb.Dy(), factor)))
	if factor <= 1 {
		draw.Draw(dst, dst.Bounds(), src, sb.Min, draw.Src)
	} else {
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, sb, draw.Src, nil)
	}
	return dst, nil
}

// release drops the pixel storage of an image that is no longer owned
func release(img image.Image) {
	switch m := img.(type) {
	case *image.RGBA:
		m.Pix = nil
	case *image.NRGBA:
		m.Pix = nil
	case *image.RGBA64:
		m.Pix = nil
	case *image.NRGBA64:
		m.Pix = nil
	case *image.Gray:
		m.Pix = nil
	case *image.Gray16:
		m.Pix = nil
	case *image.Paletted:
		m.Pix = nil
	case *image.CMYK:
		m.Pix = nil
	case *image.YCbCr:
		m.Y, m.Cb, m.Cr = nil, nil, nil
	}
}
