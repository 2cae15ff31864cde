package downloader

import "time"

type ProgressTime struct {
	Start   time.Time     `json:"start"`
	Elapsed time.Duration `json:"elapsed"`
	ETA     float64       `json:"eta"` // seconds
}

type ProgressTotal struct {
	Filesize   int64   `json:"filesize"`
	Downloaded int64   `json:"downloaded"`
	Percentage float64 `json:"percentage"`
}

type ProgressInstance struct {
	Downloaded int64   `json:"downloaded"`
	Percentage float64 `json:"percentage"`
}

// ProgressSnapshot describes a download at one sample. Total counts every
// byte on disk while Instance only counts bytes fetched since this run
// started. Speeds are in bytes per second.
type ProgressSnapshot struct {
	Time            ProgressTime     `json:"time"`
	Total           ProgressTotal    `json:"total"`
	Instance        ProgressInstance `json:"instance"`
	Speed           float64          `json:"speed"`
	AvgSpeed        float64          `json:"avgSpeed"`
	ThreadPositions []int64          `json:"threadPositions"`
}

// aggregator turns segment positions into snapshots. It is owned by a single
// goroutine.
type aggregator struct {
	segments   []*segment
	snapshot   ProgressSnapshot
	lastSample time.Time
}

func newAggregator(filesize int64, segments []*segment, start time.Time) *aggregator {
	a := &aggregator{
		segments:   segments,
		lastSample: start,
	}
	a.snapshot.Time.Start = start
	a.snapshot.Total.Filesize = filesize
	a.snapshot.ThreadPositions = make([]int64, len(segments))
	for i, s := range segments {
		a.snapshot.ThreadPositions[i] = s.position()
		a.snapshot.Total.Downloaded += s.offset
	}
	a.snapshot.Total.Percentage = percentage(a.snapshot.Total.Downloaded, filesize)
	return a
}

// sample takes the latest pending position of every segment. It reports
// whether any position advanced, in which case the snapshot was updated.
func (a *aggregator) sample(now time.Time) bool {
	var delta int64
	for i, s := range a.segments {
		select {
		case position := <-s.feed:
			if d := position - a.snapshot.ThreadPositions[i]; d > 0 {
				a.snapshot.ThreadPositions[i] = position
				delta += d
			}
		default:
		}
	}
	if delta <= 0 {
		return false
	}
	a.advance(delta, now)
	return true
}

func (a *aggregator) advance(delta int64, now time.Time) {
	s := &a.snapshot
	s.Total.Downloaded += delta
	s.Instance.Downloaded += delta
	s.Total.Percentage = percentage(s.Total.Downloaded, s.Total.Filesize)
	s.Instance.Percentage = percentage(s.Instance.Downloaded, s.Total.Filesize)

	s.Speed = 0
	if dt := now.Sub(a.lastSample); dt > 0 {
		s.Speed = float64(delta) / dt.Seconds()
	}
	s.Time.Elapsed = now.Sub(s.Time.Start)
	s.AvgSpeed = 0
	if s.Time.Elapsed > 0 {
		s.AvgSpeed = float64(s.Instance.Downloaded) / s.Time.Elapsed.Seconds()
	}
	s.Time.ETA = 0
	if s.AvgSpeed > 0 {
		s.Time.ETA = float64(s.Total.Filesize-s.Total.Downloaded) / s.AvgSpeed
	}
	a.lastSample = now
}

// current returns a copy that is safe to hand to another goroutine.
func (a *aggregator) current() *ProgressSnapshot {
	snapshot := a.snapshot
	snapshot.ThreadPositions = append([]int64(nil), a.snapshot.ThreadPositions...)
	return &snapshot
}

func percentage(downloaded, filesize int64) float64 {
	if filesize <= 0 {
		return 0
	}
	return 100 * float64(downloaded) / float64(filesize)
}
