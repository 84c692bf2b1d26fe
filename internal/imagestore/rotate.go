package imagestore

import "image"

// Rotate180 returns a new raster holding src turned by 180 degrees.
// Destination pixel i in row-major order takes the source pixel at
// (w-1-col, h-1-row), so out(x, y) == src(w-1-x, h-1-y). src is not modified.
func Rotate180(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	for i, n := 0, w*h; i < n; i++ {
		row := i / w
		col := i - row*w
		s := src.PixOffset(b.Min.X+w-1-col, b.Min.Y+h-1-row)
		d := dst.PixOffset(col, row)
		copy(dst.Pix[d:d+4], src.Pix[s:s+4])
	}
	return dst
}
