package imagestore

// SampleFactor returns the power-of-two decode divisor for an image width and a
// display width. Starting at 1 it doubles while (width/2)/factor >= targetWidth,
// so the decoded width stays at or above targetWidth. A non-positive
// targetWidth or an image that is not wider than targetWidth yields 1.
func SampleFactor(width, targetWidth int) int {
	factor := 1
	if targetWidth <= 0 || width <= targetWidth {
		return factor
	}

	halfWidth := width / 2
	for halfWidth/factor >= targetWidth {
		factor *= 2
	}
	return factor
}

// sampledSize is the size of a dimension decoded at factor
func sampledSize(size, factor int) int {
	if factor <= 1 {
		return size
	}
	if s := size / factor; s > 0 {
		return s
	}
	return 1
}
