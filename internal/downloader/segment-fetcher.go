package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/tanq16/sud/internal/utils"
)

const chunkSize = 32 * 1024

// segment is one range of a download and its on-disk partial file.
type segment struct {
	index  int
	rng    Range
	path   string
	offset int64 // partial file size when the fetch started

	// feed holds the most recent absolute position. Publishing replaces an
	// unread value so the writer never waits for the aggregator.
	feed chan int64
}

func newSegment(fs afero.Fs, destination string, index int, rng Range) (*segment, error) {
	path := SegmentPath(destination, index)
	offset, err := LocalFilesize(fs, path)
	if err != nil {
		return nil, err
	}
	return &segment{
		index:  index,
		rng:    rng,
		path:   path,
		offset: offset,
		feed:   make(chan int64, 1),
	}, nil
}

func (s *segment) position() int64 { return s.rng.Start() + s.offset }

func (s *segment) complete() bool { return s.position() >= s.rng.End() }

func (s *segment) publish(position int64) {
	for {
		select {
		case s.feed <- position:
			return
		default:
		}
		select {
		case <-s.feed:
		default:
		}
	}
}

// RangeHeader returns the Range header value for r when its partial file
// already holds size bytes.
func RangeHeader(r Range, size int64) string {
	return fmt.Sprintf("bytes=%d-%d", r.Start()+size, r.End())
}

// RangeHeaders returns one header per range of a download, or an empty string
// for ranges whose partial file is already complete.
func RangeHeaders(fs afero.Fs, destination string, ranges []Range) ([]string, error) {
	headers := make([]string, len(ranges))
	for i, r := range ranges {
		size, err := LocalFilesize(fs, SegmentPath(destination, i))
		if err != nil {
			return nil, err
		}
		if r.Start()+size >= r.End() {
			continue
		}
		headers[i] = RangeHeader(r, size)
	}
	return headers, nil
}

type fetcher struct {
	client  *utils.SudHTTPClient
	fs      afero.Fs
	url     string
	timeout time.Duration
	log     zerolog.Logger
}

// fetch appends the missing bytes of s to its partial file, publishing the
// absolute position after every write.
func (f *fetcher) fetch(ctx context.Context, s *segment) error {
	log := f.log.With().Int("segment", s.index).Logger()
	position := s.position()
	if s.complete() {
		log.Debug().Str("file", s.path).Int64("size", s.offset).Msg("Segment already downloaded, skipping")
		s.publish(position)
		return nil
	}
	file, err := f.fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return &IOError{Op: "open", Path: s.path, Err: err}
	}
	defer file.Close()
	if s.offset > 0 {
		log.Debug().Str("file", s.path).Int64("size", s.offset).Msg("Resuming incomplete segment")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var idle atomic.Bool
	timer := time.AfterFunc(f.timeout, func() {
		idle.Store(true)
		cancel()
	})
	defer timer.Stop()
	remoteErr := func(err error) error {
		if idle.Load() {
			err = ErrIdleTimeout
		}
		return &RemoteError{Op: http.MethodGet, URL: f.url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return &RemoteError{Op: http.MethodGet, URL: f.url, Err: err}
	}
	rangeHeader := RangeHeader(s.rng, s.offset)
	req.Header.Set("Range", rangeHeader)
	log.Debug().Str("range", rangeHeader).Msg("Sending range request")
	resp, err := f.client.Do(req)
	if err != nil {
		return remoteErr(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && position == 0:
		log.Debug().Msg("Server ignored range, reading from start of body")
	default:
		return &RemoteError{Op: http.MethodGet, URL: f.url, StatusCode: resp.StatusCode, Err: ErrUnexpectedStatus}
	}

	body := io.LimitReader(resp.Body, s.rng.End()-position+1)
	buffer := make([]byte, chunkSize)
	for {
		n, readErr := body.Read(buffer)
		if n > 0 {
			timer.Reset(f.timeout)
			if _, err := file.Write(buffer[:n]); err != nil {
				return &IOError{Op: "write", Path: s.path, Err: err}
			}
			position += int64(n)
			s.publish(position)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return remoteErr(readErr)
		}
	}
	log.Debug().Int64("position", position).Int64("end", s.rng.End()).Msg("Segment finished")
	return nil
}
