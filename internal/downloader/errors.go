package downloader

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidThreads       = errors.New("thread count must be at least 1")
	ErrNegativeFilesize     = errors.New("filesize cannot be negative")
	ErrMissingContentLength = errors.New("server didn't provide Content-Length header")
	ErrUnexpectedStatus     = errors.New("unexpected status code")
	ErrIdleTimeout          = errors.New("no data received before timeout")
	ErrNoRanges             = errors.New("descriptor has no ranges")
	ErrNoURL                = errors.New("no URL or metadata path provided")
)

// RemoteError reports a failed exchange with the remote server: a transport
// failure, a timeout or an unacceptable status code.
type RemoteError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: %v (%d)", e.Op, e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IOError reports a local filesystem failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// RebuildError is returned when a segment does not cover its range at
// reassembly time. Nothing on disk is modified when it is returned.
type RebuildError struct {
	Segment  int
	Path     string
	Expected int64
	Actual   int64
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("segment %d (%s) is incomplete: ends at %d, expected %d", e.Segment, e.Path, e.Actual, e.Expected)
}

// MetadataError is returned when a metadata file is absent or malformed.
type MetadataError struct {
	Path string
	Err  error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("invalid metadata %s: %v", e.Path, e.Err)
}

func (e *MetadataError) Unwrap() error { return e.Err }
