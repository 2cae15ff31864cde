package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/sud/internal/downloader"
	"github.com/tanq16/sud/internal/utils"
)

type fakeFeed struct {
	loc    downloader.Locations
	opts   downloader.Options
	events chan downloader.Event
	done   chan struct{}
	once   sync.Once
	err    error
}

func (f *fakeFeed) Events() <-chan downloader.Event { return f.events }

func (f *fakeFeed) Wait() error {
	<-f.done
	return f.err
}

func (f *fakeFeed) Cancel() { f.finish(context.Canceled) }

func (f *fakeFeed) finish(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.events)
		close(f.done)
	})
}

type fakeEngine struct {
	started chan *fakeFeed
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan *fakeFeed, 64)}
}

func (e *fakeEngine) start(ctx context.Context, loc downloader.Locations, opts downloader.Options) Feed {
	f := &fakeFeed{
		loc:    loc,
		opts:   opts,
		events: make(chan downloader.Event, 16),
		done:   make(chan struct{}),
	}
	e.started <- f
	return f
}

func (e *fakeEngine) next(t *testing.T) *fakeFeed {
	t.Helper()
	select {
	case f := <-e.started:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no download was started")
		return nil
	}
}

func (e *fakeEngine) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-e.started:
		t.Fatalf("unexpected start of %+v", f.loc)
	case <-time.After(50 * time.Millisecond):
	}
}

type recorder struct {
	mu        sync.Mutex
	events    []downloader.Event
	err       error
	completed bool
}

func (r *recorder) Next(e downloader.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *recorder) state() (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), r.completed, r.err
}

func newTestScheduler(engine *fakeEngine, autoStart bool, limit int) *Scheduler {
	nop := zerolog.Nop()
	return New(Options{
		AutoStart:              autoStart,
		MaxConcurrentDownloads: limit,
		DownloadOptions:        downloader.Options{Threads: 4, Fs: afero.NewMemMapFs(), Logger: &nop},
		Start:                  engine.start,
		Logger:                 &nop,
	})
}

func loc(name string) downloader.Locations {
	return downloader.Locations{URL: "http://example.com/" + name, DestinationDir: "/dl"}
}

func assertStatus(t *testing.T, s *Scheduler, key string, expected Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, _ := s.Status(key)
		return status == expected
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", key, expected)
}

func Test_Scheduler_ConcurrencyLimit(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 2)
	obs := &recorder{}

	for _, key := range []string{"a", "b", "c"} {
		_, err := s.QueueDownload(key, loc(key), downloader.Options{}, obs)
		require.NoError(t, err)
	}
	first, second := engine.next(t), engine.next(t)
	engine.none(t)
	assert.Equal(t, "http://example.com/a", first.loc.URL)
	assert.Equal(t, "http://example.com/b", second.loc.URL)
	assert.Equal(t, 2, s.ActiveCount())
	assert.Equal(t, 1, s.QueuedCount())

	first.finish(nil)
	third := engine.next(t)
	assert.Equal(t, "http://example.com/c", third.loc.URL)
	require.Eventually(t, func() bool {
		_, completed, _ := obs.state()
		return completed
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, s.TaskCount())
	_, ok := s.Status("a")
	assert.False(t, ok)
}

func Test_Scheduler_Unlimited(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 0)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		_, err := s.QueueDownload(key, loc(key), downloader.Options{}, nil)
		require.NoError(t, err)
	}
	for range 5 {
		engine.next(t)
	}
	assert.Equal(t, 5, s.ActiveCount())
}

func Test_Scheduler_DuplicateKey(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, false, 1)
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, nil)
	require.NoError(t, err)

	_, err = s.QueueDownload("a", loc("other"), downloader.Options{}, nil)
	var dup *DuplicateKeyError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "a", dup.Key)
	assert.Equal(t, 1, s.TaskCount())
	assert.Equal(t, "http://example.com/a", s.Tasks()[0].Locations.URL)
}

func Test_Scheduler_DefaultKey(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, false, 1)

	key, err := s.QueueDownload("", loc("a.iso"), downloader.Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dl/a.iso.sud", key)

	key, err = s.QueueDownload("", downloader.Locations{MetadataPath: "/dl/b.iso.sud"}, downloader.Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/dl/b.iso.sud", key)

	key, err = s.QueueDownload("", downloader.Locations{}, downloader.Options{}, nil)
	require.NoError(t, err)
	assert.Len(t, key, 36)
}

func Test_Scheduler_PauseKeepsSlot(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, nil)
	require.NoError(t, err)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, nil)
	require.NoError(t, err)
	engine.next(t)

	cancelled, err := s.PauseDownload("a", false)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assertStatus(t, s, "a", StatusPaused)
	engine.none(t)
	assert.Equal(t, 1, s.QueuedCount())

	cancelled, err = s.PauseDownload("a", true)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assertStatus(t, s, "a", StatusStopped)
	second := engine.next(t)
	assert.Equal(t, "http://example.com/b", second.loc.URL)
}

func Test_Scheduler_StopFreesSlot(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, nil)
	require.NoError(t, err)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, nil)
	require.NoError(t, err)
	engine.next(t)

	cancelled, err := s.PauseDownload("a", true)
	require.NoError(t, err)
	assert.True(t, cancelled)
	second := engine.next(t)
	assert.Equal(t, "http://example.com/b", second.loc.URL)
	assertStatus(t, s, "a", StatusStopped)
	assert.Equal(t, 1, s.StoppedCount())
}

func Test_Scheduler_PauseQueued(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, false, 1)
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, nil)
	require.NoError(t, err)

	cancelled, err := s.PauseDownload("a", false)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assertStatus(t, s, "a", StatusQueued)

	cancelled, err = s.PauseDownload("a", true)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assertStatus(t, s, "a", StatusStopped)
}

func Test_Scheduler_StartIgnoresLimit(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, nil)
	require.NoError(t, err)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, nil)
	require.NoError(t, err)
	engine.next(t)

	require.NoError(t, s.StartDownload("b"))
	engine.next(t)
	assert.Equal(t, 2, s.ActiveCount())
}

func Test_Scheduler_ResumeFromMetadata(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	obs := &recorder{}
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{Threads: 9}, obs)
	require.NoError(t, err)
	first := engine.next(t)
	assert.Equal(t, 9, first.opts.Threads)

	first.events <- downloader.Event{Descriptor: &downloader.Descriptor{MetadataPath: "/dl/a.sud"}}
	first.events <- downloader.Event{Progress: &downloader.ProgressSnapshot{}}
	require.Eventually(t, func() bool {
		n, _, _ := obs.state()
		return n == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err = s.PauseDownload("a", false)
	require.NoError(t, err)
	assertStatus(t, s, "a", StatusPaused)

	require.NoError(t, s.StartDownload("a"))
	second := engine.next(t)
	assert.Equal(t, downloader.Locations{MetadataPath: "/dl/a.sud"}, second.loc)
	assertStatus(t, s, "a", StatusActive)
	_, completed, obsErr := obs.state()
	assert.NoError(t, obsErr, "pausing is not an error")
	assert.False(t, completed)
}

func Test_Scheduler_RestartWhileSettling(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	var block sync.WaitGroup
	block.Add(1)
	obs := ObserverFuncs{NextFunc: func(downloader.Event) { block.Wait() }}
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, obs)
	require.NoError(t, err)
	first := engine.next(t)
	// hold the watcher inside Next so the task stays in pausing
	first.events <- downloader.Event{Progress: &downloader.ProgressSnapshot{}}

	_, err = s.PauseDownload("a", false)
	require.NoError(t, err)
	require.NoError(t, s.StartDownload("a"))
	engine.none(t)
	status, _ := s.Status("a")
	assert.Equal(t, StatusPausing, status)

	block.Done()
	engine.next(t)
	assertStatus(t, s, "a", StatusActive)
}

func Test_Scheduler_ErrorRemovesTask(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	obs := &recorder{}
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, obs)
	require.NoError(t, err)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, nil)
	require.NoError(t, err)
	first := engine.next(t)

	boom := &downloader.RemoteError{Op: "GET", URL: "http://example.com/a", StatusCode: 500}
	first.finish(boom)
	engine.next(t)
	require.Eventually(t, func() bool {
		_, _, obsErr := obs.state()
		return obsErr != nil
	}, 2*time.Second, 5*time.Millisecond)
	_, completed, obsErr := obs.state()
	assert.Equal(t, boom, obsErr)
	assert.False(t, completed)
	_, ok := s.Status("a")
	assert.False(t, ok)
}

func Test_Scheduler_Kill(t *testing.T) {
	engine := newFakeEngine()
	nop := zerolog.Nop()
	fs := afero.NewMemMapFs()
	s := New(Options{
		AutoStart:              true,
		MaxConcurrentDownloads: 1,
		DownloadOptions:        downloader.Options{Fs: fs, Logger: &nop},
		Start:                  engine.start,
		Logger:                 &nop,
	})
	desc := &downloader.Descriptor{
		URL:             "http://example.com/a",
		DestinationPath: "/dl/a",
		MetadataPath:    "/dl/a.sud",
		Filesize:        10,
		Ranges:          []downloader.Range{{0, 5}, {6, 10}},
	}
	require.NoError(t, downloader.WriteMetadata(fs, desc))
	require.NoError(t, afero.WriteFile(fs, downloader.SegmentPath("/dl/a", 0), []byte("abc"), 0644))

	obs := &recorder{}
	key, err := s.QueueDownload("", loc("a"), downloader.Options{}, obs)
	require.NoError(t, err)
	assert.Equal(t, "/dl/a.sud", key)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, nil)
	require.NoError(t, err)
	first := engine.next(t)

	require.NoError(t, s.KillDownload(key))
	select {
	case <-first.done:
	default:
		t.Fatal("feed was not cancelled")
	}
	for _, path := range []string{"/dl/a.sud", downloader.SegmentPath("/dl/a", 0)} {
		exists, _ := afero.Exists(fs, path)
		assert.False(t, exists, path)
	}
	_, ok := s.Status(key)
	assert.False(t, ok)
	engine.next(t)

	time.Sleep(20 * time.Millisecond)
	_, completed, obsErr := obs.state()
	assert.NoError(t, obsErr)
	assert.False(t, completed)

	assert.ErrorIs(t, s.KillDownload("missing"), ErrUnknownTask)
}

func Test_Scheduler_StartQueue(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, false, 2)
	for _, key := range []string{"a", "b", "c"} {
		_, err := s.QueueDownload(key, loc(key), downloader.Options{}, nil)
		require.NoError(t, err)
	}
	engine.none(t)

	_, err := s.PauseDownload("a", true)
	require.NoError(t, err)
	assert.Equal(t, 1, s.StoppedCount())

	s.StartQueue()
	first, second := engine.next(t), engine.next(t)
	engine.none(t)
	assert.Equal(t, "http://example.com/a", first.loc.URL)
	assert.Equal(t, "http://example.com/b", second.loc.URL)
	assert.Equal(t, 1, s.QueuedCount())
}

func Test_Scheduler_PauseAllAndWait(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 2)
	for _, key := range []string{"a", "b", "c"} {
		_, err := s.QueueDownload(key, loc(key), downloader.Options{}, nil)
		require.NoError(t, err)
	}
	engine.next(t)
	engine.next(t)

	s.PauseAll(true)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	engine.none(t)
	assert.Equal(t, 3, s.StoppedCount())
	for _, info := range s.Tasks() {
		assert.Equal(t, StatusStopped, info.Status)
	}
}

func Test_Scheduler_Wait(t *testing.T) {
	engine := newFakeEngine()
	s := newTestScheduler(engine, true, 1)
	obs := &recorder{}
	_, err := s.QueueDownload("a", loc("a"), downloader.Options{}, obs)
	require.NoError(t, err)
	_, err = s.QueueDownload("b", loc("b"), downloader.Options{}, obs)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	go func() {
		(<-engine.started).finish(nil)
		(<-engine.started).finish(nil)
	}()
	require.NoError(t, s.Wait(context.Background()))
	assert.Zero(t, s.TaskCount())
	_, completed, _ := obs.state()
	assert.True(t, completed, "observers are notified before Wait returns")
}

func Test_Scheduler_UnknownKey(t *testing.T) {
	s := newTestScheduler(newFakeEngine(), true, 1)
	assert.ErrorIs(t, s.StartDownload("x"), ErrUnknownTask)
	_, err := s.PauseDownload("x", true)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func Test_Scheduler_MergedOptions(t *testing.T) {
	nop := zerolog.Nop()
	s := New(Options{
		DownloadOptions: downloader.Options{
			Threads:  4,
			Throttle: time.Second,
			HTTP: utils.HTTPClientConfig{
				Timeout:   time.Minute,
				UserAgent: "base",
				Headers:   map[string]string{"A": "1", "B": "2"},
			},
		},
		Logger: &nop,
	})
	merged := s.mergedOptions(&task{options: downloader.Options{
		Threads: 8,
		HTTP: utils.HTTPClientConfig{
			Headers: map[string]string{"B": "3", "C": "4"},
		},
	}})
	assert.Equal(t, 8, merged.Threads)
	assert.Equal(t, time.Second, merged.Throttle)
	assert.Equal(t, time.Minute, merged.HTTP.Timeout)
	assert.Equal(t, "base", merged.HTTP.UserAgent)
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, merged.HTTP.Headers)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, s.opts.DownloadOptions.HTTP.Headers, "defaults are not mutated")
}
