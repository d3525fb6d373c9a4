package media

import "errors"

var (
	// ErrProcessing indicates ffmpeg/ffprobe failed or produced unusable output.
	ErrProcessing = errors.New("media processing failed")
	// ErrInvalidMedia indicates the input has no decodable video stream.
	ErrInvalidMedia = errors.New("input has no usable video stream")
	// ErrUnknownEffect indicates an effect without a filter definition.
	ErrUnknownEffect = errors.New("unknown effect")
	// ErrPoolClosed indicates the worker pool no longer accepts jobs.
	ErrPoolClosed = errors.New("media worker pool closed")
)
