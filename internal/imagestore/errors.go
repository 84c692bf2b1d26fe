package imagestore

import "errors"

var (
	// ErrBlobNotFound is returned when the referenced blob does not exist
	ErrBlobNotFound = errors.New("blob not found")
	// ErrDecodeFailed is returned for corrupt or unsupported image data
	ErrDecodeFailed = errors.New("image decode failed")
	// ErrIO is returned when the blob cannot be read
	ErrIO = errors.New("image read failed")
	// ErrTooLarge is returned when the image header exceeds the pixel budget
	ErrTooLarge = errors.New("image exceeds pixel budget")
)
