// Package scheduler runs many downloads under a concurrency limit and
// manages their pause, stop and kill lifecycle.
package scheduler

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/utils"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusActive   Status = "active"
	StatusPausing  Status = "pausing"
	StatusStopping Status = "stopping"
	StatusPaused   Status = "paused"
	StatusStopped  Status = "stopped"
)

// Feed is a running download as seen by the scheduler.
type Feed interface {
	Events() <-chan downloader.Event
	Wait() error
	Cancel()
}

// StartFunc starts a download without blocking.
type StartFunc func(ctx context.Context, loc downloader.Locations, opts downloader.Options) Feed

type Options struct {
	AutoStart              bool
	MaxConcurrentDownloads int // 0 means unlimited
	DownloadOptions        downloader.Options
	Start                  StartFunc
	Logger                 *zerolog.Logger
}

func DefaultOptions() Options {
	return Options{
		AutoStart:              true,
		MaxConcurrentDownloads: 4,
		DownloadOptions:        downloader.DefaultOptions(),
	}
}

type TaskInfo struct {
	Key          string
	Status       Status
	Locations    downloader.Locations
	MetadataPath string
}

type task struct {
	key          string
	status       Status
	locations    downloader.Locations
	options      downloader.Options
	observer     Observer
	feed         Feed
	generation   uint64
	metadataPath string // known once the feed emitted its descriptor
	restart      bool   // start again once the current feed settles
}

// occupying reports whether the task holds a concurrency slot. Paused tasks
// keep theirs until stopped or killed.
func (t *task) occupying() bool {
	switch t.status {
	case StatusActive, StatusPausing, StatusStopping, StatusPaused:
		return true
	}
	return false
}

type Scheduler struct {
	mu         sync.Mutex
	opts       Options
	tasks      []*task // FIFO
	generation uint64
	notifying  int
	changed    chan struct{}
	log        zerolog.Logger
}

func New(opts Options) *Scheduler {
	if opts.Start == nil {
		opts.Start = func(ctx context.Context, loc downloader.Locations, o downloader.Options) Feed {
			return downloader.Start(ctx, loc, o)
		}
	}
	s := &Scheduler{
		opts:    opts,
		changed: make(chan struct{}),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	} else {
		s.log = utils.GetLogger("scheduler")
	}
	return s
}

// QueueDownload adds a download to the end of the queue and returns its key.
// An empty key defaults to the download's metadata path, or a random id when
// that cannot be resolved.
func (s *Scheduler) QueueDownload(key string, loc downloader.Locations, opts downloader.Options, observer Observer) (string, error) {
	if key == "" {
		var err error
		if key, err = loc.ResolveMetadataPath(); err != nil {
			key = uuid.NewString()
		}
	}
	if observer == nil {
		observer = ObserverFuncs{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.find(key) != nil {
		return "", &DuplicateKeyError{Key: key}
	}
	s.tasks = append(s.tasks, &task{
		key:       key,
		status:    StatusQueued,
		locations: loc,
		options:   opts,
		observer:  observer,
	})
	s.log.Debug().Str("key", key).Msg("Queued download")
	if s.opts.AutoStart {
		s.admitLocked()
	}
	s.signalLocked()
	return key, nil
}

// StartDownload starts key immediately regardless of the concurrency limit.
// A paused or stopped task resumes from its metadata file.
func (s *Scheduler) StartDownload(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.find(key)
	if t == nil {
		return ErrUnknownTask
	}
	switch t.status {
	case StatusActive:
	case StatusPausing, StatusStopping:
		t.restart = true
	default:
		s.startLocked(t)
	}
	s.signalLocked()
	return nil
}

// PauseDownload cancels the feed of key. A paused task keeps its slot while a
// stopped one frees it. It reports whether a running feed was cancelled; a
// task that was not running is still marked stopped when stop is set.
func (s *Scheduler) PauseDownload(key string, stop bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.find(key)
	if t == nil {
		return false, ErrUnknownTask
	}
	cancelled := s.pauseLocked(t, stop)
	s.admitIfAutoLocked()
	s.signalLocked()
	return cancelled, nil
}

// PauseAll pauses or stops every task.
func (s *Scheduler) PauseAll(stop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		s.pauseLocked(t, stop)
	}
	s.admitIfAutoLocked()
	s.signalLocked()
}

func (s *Scheduler) pauseLocked(t *task, stop bool) bool {
	t.restart = false
	switch t.status {
	case StatusActive:
		t.status = StatusPausing
		if stop {
			t.status = StatusStopping
		}
		t.feed.Cancel()
		s.log.Debug().Str("key", t.key).Str("status", string(t.status)).Msg("Cancelling download")
		return true
	case StatusPausing:
		if stop {
			t.status = StatusStopping
		}
	case StatusQueued, StatusPaused:
		if stop {
			t.status = StatusStopped
		}
	}
	return false
}

// KillDownload cancels key, waits for its feed to stop and deletes its
// partial files and metadata.
func (s *Scheduler) KillDownload(key string) error {
	s.mu.Lock()
	t := s.find(key)
	if t == nil {
		s.mu.Unlock()
		return ErrUnknownTask
	}
	s.remove(t)
	feed := t.feed
	t.generation = 0
	metadataPath := t.metadataPath
	fs := s.mergedOptions(t).Fs
	s.notifying++
	s.mu.Unlock()

	if feed != nil {
		feed.Cancel()
		feed.Wait()
	}
	if metadataPath == "" {
		metadataPath, _ = t.locations.ResolveMetadataPath()
	}
	var err error
	if metadataPath != "" {
		if fs == nil {
			fs = afero.NewOsFs()
		}
		_, err = downloader.Kill(fs, metadataPath)
	}
	s.log.Info().Str("key", key).Msg("Killed download")

	s.mu.Lock()
	s.notifying--
	s.admitIfAutoLocked()
	s.signalLocked()
	s.mu.Unlock()
	return err
}

// StartQueue requeues stopped tasks and starts queued ones up to the limit.
func (s *Scheduler) StartQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.status == StatusStopped {
			t.status = StatusQueued
		}
	}
	s.admitLocked()
	s.signalLocked()
}

// Wait blocks until no task is queued, running or settling.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		idle := s.idleLocked()
		changed := s.changed
		s.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]TaskInfo, len(s.tasks))
	for i, t := range s.tasks {
		infos[i] = TaskInfo{Key: t.key, Status: t.status, Locations: t.locations, MetadataPath: t.metadataPath}
	}
	return infos
}

func (s *Scheduler) Status(key string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.find(key); t != nil {
		return t.status, true
	}
	return "", false
}

func (s *Scheduler) QueuedCount() int  { return s.count(StatusQueued) }
func (s *Scheduler) ActiveCount() int  { return s.count(StatusActive) }
func (s *Scheduler) StoppedCount() int { return s.count(StatusStopped) }

func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) count(status Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.status == status {
			n++
		}
	}
	return n
}

func (s *Scheduler) find(key string) *task {
	for _, t := range s.tasks {
		if t.key == key {
			return t
		}
	}
	return nil
}

func (s *Scheduler) remove(t *task) {
	s.tasks = slices.DeleteFunc(s.tasks, func(other *task) bool { return other == t })
}

func (s *Scheduler) idleLocked() bool {
	if s.notifying > 0 {
		return false
	}
	for _, t := range s.tasks {
		switch t.status {
		case StatusQueued, StatusActive, StatusPausing, StatusStopping:
			return false
		}
	}
	return true
}

// signalLocked wakes every Wait call.
func (s *Scheduler) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Scheduler) admitIfAutoLocked() {
	if s.opts.AutoStart {
		s.admitLocked()
	}
}

// admitLocked starts queued tasks in FIFO order while slots are free.
func (s *Scheduler) admitLocked() {
	for _, t := range s.tasks {
		if t.status != StatusQueued {
			continue
		}
		if limit := s.opts.MaxConcurrentDownloads; limit > 0 && s.occupied() >= limit {
			return
		}
		s.startLocked(t)
	}
}

func (s *Scheduler) occupied() int {
	n := 0
	for _, t := range s.tasks {
		if t.occupying() {
			n++
		}
	}
	return n
}

func (s *Scheduler) startLocked(t *task) {
	loc := t.locations
	if t.metadataPath != "" {
		loc = downloader.Locations{MetadataPath: t.metadataPath}
	}
	s.generation++
	t.generation = s.generation
	t.status = StatusActive
	t.restart = false
	t.feed = s.opts.Start(context.Background(), loc, s.mergedOptions(t))
	s.log.Info().Str("key", t.key).Msg("Starting download")
	go s.watch(t, t.feed, t.generation)
}

// watch forwards the events of one feed and settles the task once the feed
// ends.
func (s *Scheduler) watch(t *task, feed Feed, generation uint64) {
	for e := range feed.Events() {
		if e.Descriptor != nil {
			s.mu.Lock()
			if t.generation == generation {
				t.metadataPath = e.Descriptor.MetadataPath
			}
			s.mu.Unlock()
		}
		t.observer.Next(e)
	}
	s.settle(t, generation, feed.Wait())
}

func (s *Scheduler) settle(t *task, generation uint64, err error) {
	s.mu.Lock()
	if t.generation != generation || s.find(t.key) != t {
		s.mu.Unlock()
		return
	}
	var notify func()
	log := s.log.With().Str("key", t.key).Logger()
	switch {
	case err == nil:
		s.remove(t)
		notify = t.observer.Complete
		log.Info().Msg("Download complete")
	case errors.Is(err, context.Canceled):
		t.feed = nil
		switch t.status {
		case StatusPausing:
			t.status = StatusPaused
		default:
			t.status = StatusStopped
		}
		log.Debug().Str("status", string(t.status)).Msg("Download settled")
		if t.restart {
			s.startLocked(t)
		}
	default:
		s.remove(t)
		notify = func() { t.observer.Error(err) }
		log.Error().Err(err).Msg("Download failed")
	}
	s.admitIfAutoLocked()
	s.notifying++
	s.mu.Unlock()

	if notify != nil {
		notify()
	}

	s.mu.Lock()
	s.notifying--
	s.signalLocked()
	s.mu.Unlock()
}

// mergedOptions overlays the non-zero options of t on the scheduler defaults.
func (s *Scheduler) mergedOptions(t *task) downloader.Options {
	merged := s.opts.DownloadOptions
	o := t.options
	if o.Threads != 0 {
		merged.Threads = o.Threads
	}
	if o.Throttle != 0 {
		merged.Throttle = o.Throttle
	}
	if o.Fs != nil {
		merged.Fs = o.Fs
	}
	if o.Logger != nil {
		merged.Logger = o.Logger
	}
	h := o.HTTP
	if h.Timeout != 0 {
		merged.HTTP.Timeout = h.Timeout
	}
	if h.KATimeout != 0 {
		merged.HTTP.KATimeout = h.KATimeout
	}
	if h.ProxyURL != "" {
		merged.HTTP.ProxyURL = h.ProxyURL
		merged.HTTP.ProxyUsername = h.ProxyUsername
		merged.HTTP.ProxyPassword = h.ProxyPassword
	}
	if h.UserAgent != "" {
		merged.HTTP.UserAgent = h.UserAgent
	}
	merged.HTTP.HighThreadMode = merged.HTTP.HighThreadMode || h.HighThreadMode
	if len(h.Headers) > 0 {
		headers := maps.Clone(merged.HTTP.Headers)
		if headers == nil {
			headers = make(map[string]string, len(h.Headers))
		}
		maps.Copy(headers, h.Headers)
		merged.HTTP.Headers = headers
	}
	return merged
}
