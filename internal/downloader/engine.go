// Package downloader fetches a remote file over several concurrent range
// requests. Progress is checkpointed in partial files next to the
// destination so a stopped download can be resumed from its .sud file.
package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tanq16/sud/internal/utils"
)

const (
	DefaultThreads  = 4
	DefaultThrottle = 500 * time.Millisecond
)

type Options struct {
	Threads  int
	Throttle time.Duration
	HTTP     utils.HTTPClientConfig
	Fs       afero.Fs
	Logger   *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		Threads:  DefaultThreads,
		Throttle: DefaultThrottle,
		HTTP:     utils.HTTPClientConfig{Timeout: utils.DefaultTimeout},
	}
}

func (o Options) withDefaults() Options {
	if o.Threads == 0 {
		o.Threads = DefaultThreads
	}
	if o.Throttle <= 0 {
		o.Throttle = DefaultThrottle
	}
	if o.HTTP.Timeout <= 0 {
		o.HTTP.Timeout = utils.DefaultTimeout
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		log := utils.GetLogger("downloader")
		o.Logger = &log
	}
	return o
}

// Event is one emission of a download feed. The first event of a feed
// carries the Descriptor and every later one a ProgressSnapshot.
type Event struct {
	Descriptor *Descriptor
	Progress   *ProgressSnapshot
}

// Download is a running download. Its Events channel must be drained until
// it is closed.
type Download struct {
	id     string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Start begins or resumes the download named by loc and returns at once.
func Start(ctx context.Context, loc Locations, opts Options) *Download {
	ctx, cancel := context.WithCancel(ctx)
	d := &Download{
		id:     uuid.NewString(),
		events: make(chan Event, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go d.run(ctx, loc, opts.withDefaults())
	return d
}

func (d *Download) ID() string { return d.id }

func (d *Download) Events() <-chan Event { return d.events }

// Cancel aborts every connection and leaves the partial files and metadata in
// place for a later resume.
func (d *Download) Cancel() { d.cancel() }

// Done is closed once the download has stopped and all files are closed.
func (d *Download) Done() <-chan struct{} { return d.done }

// Wait blocks until the download stops. It returns nil once the destination
// is rebuilt, context.Canceled after Cancel, or the error that stopped it.
func (d *Download) Wait() error {
	<-d.done
	return d.err
}

func (d *Download) run(ctx context.Context, loc Locations, opts Options) {
	log := opts.Logger.With().Str("download", d.id).Logger()
	err := d.download(ctx, loc, opts, log)
	if err != nil && ctx.Err() != nil {
		err = context.Canceled
	}
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		log.Info().Msg("Download cancelled")
	default:
		log.Error().Err(err).Msg("Download failed")
	}
	d.err = err
	d.cancel()
	close(d.events)
	close(d.done)
}

func (d *Download) download(ctx context.Context, loc Locations, opts Options, log zerolog.Logger) error {
	client := utils.NewSudHTTPClient(opts.HTTP)
	defer client.CloseIdleConnections()

	desc, err := prepare(ctx, client, loc, opts, log)
	if err != nil {
		return err
	}
	if !d.emit(ctx, Event{Descriptor: desc}) {
		return ctx.Err()
	}

	segments := make([]*segment, len(desc.Ranges))
	for i, r := range desc.Ranges {
		if segments[i], err = newSegment(opts.Fs, desc.DestinationPath, i, r); err != nil {
			return err
		}
	}
	agg := newAggregator(desc.Filesize, segments, time.Now())
	f := &fetcher{
		client:  client,
		fs:      opts.Fs,
		url:     desc.URL,
		timeout: client.Timeout(),
		log:     log,
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range segments {
		g.Go(func() error {
			return f.fetch(gctx, s)
		})
	}
	finished := make(chan error, 1)
	go func() {
		finished <- g.Wait()
	}()

	ticker := time.NewTicker(opts.Throttle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if agg.sample(time.Now()) && !d.emit(ctx, Event{Progress: agg.current()}) {
				<-finished
				return ctx.Err()
			}
		case err := <-finished:
			if err != nil {
				return err
			}
			if agg.sample(time.Now()) && !d.emit(ctx, Event{Progress: agg.current()}) {
				return ctx.Err()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := Rebuild(opts.Fs, desc); err != nil {
				return err
			}
			log.Info().Str("file", desc.DestinationPath).Int64("size", desc.Filesize).Msg("Download complete")
			return nil
		}
	}
}

func (d *Download) emit(ctx context.Context, e Event) bool {
	select {
	case d.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepare loads the descriptor of a resumed download, or probes the server
// and persists a new one.
func prepare(ctx context.Context, client *utils.SudHTTPClient, loc Locations, opts Options, log zerolog.Logger) (*Descriptor, error) {
	if loc.IsResume() {
		desc, err := ReadMetadata(opts.Fs, loc.MetadataPath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("metadata", loc.MetadataPath).Str("file", desc.DestinationPath).Msg("Resuming download")
		return desc, nil
	}
	if loc.URL == "" {
		return nil, ErrNoURL
	}
	if opts.Threads < 1 {
		return nil, ErrInvalidThreads
	}
	destination, err := loc.ResolveDestination()
	if err != nil {
		return nil, err
	}
	filesize, err := probeFilesize(ctx, client, loc.URL)
	if err != nil {
		return nil, err
	}
	threads := clampThreads(filesize, opts.Threads)
	if threads != opts.Threads {
		log.Debug().Int("requested", opts.Threads).Int("threads", threads).Msg("Reduced thread count for small file")
	}
	ranges, err := CalculateRanges(filesize, threads)
	if err != nil {
		return nil, err
	}
	desc := &Descriptor{
		URL:             loc.URL,
		DestinationPath: destination,
		MetadataPath:    MetadataPath(destination),
		Filesize:        filesize,
		Ranges:          ranges,
	}
	// partial files without metadata belong to no resumable download
	for i := range ranges {
		if err := removeIfExists(opts.Fs, SegmentPath(destination, i)); err != nil {
			return nil, err
		}
	}
	if err := WriteMetadata(opts.Fs, desc); err != nil {
		return nil, err
	}
	log.Info().Str("file", destination).Int64("size", filesize).Int("threads", threads).Msg("Starting download")
	return desc, nil
}
