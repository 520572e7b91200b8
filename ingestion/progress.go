package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultProgressInterval is the minimum gap between progress events.
const DefaultProgressInterval = 500 * time.Millisecond

// Progress is a snapshot of a running job.
type Progress struct {
	JobID          string
	BytesProcessed int64
	TotalBytes     int64
	Percent        float64
	ChunksCreated  int64
	CurrentOffset  int64

	// Rate is in bytes per second, measured over this run only.
	Rate float64
	ETA  time.Duration
	Done bool
}

// progressTracker throttles progress events for one job. The first update
// and the final event are always delivered.
type progressTracker struct {
	jobID     string
	total     int64
	base      int64
	startTime time.Time
	report    func(Progress)
	sometimes rate.Sometimes

	mu      sync.Mutex
	bytes   int64
	chunks  int64
	offset  int64
	stopped bool
}

func newProgressTracker(jobID string, total, base int64, interval time.Duration, report func(Progress)) *progressTracker {
	return &progressTracker{
		jobID:     jobID,
		total:     total,
		base:      base,
		bytes:     base,
		startTime: time.Now(),
		report:    report,
		sometimes: rate.Sometimes{Interval: interval},
	}
}

// update records the latest position and reports it if the interval has passed.
func (p *progressTracker) update(bytes, chunks, offset int64) {
	if p.report == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.bytes, p.chunks, p.offset = bytes, chunks, offset
	p.sometimes.Do(func() {
		p.report(p.snapshot(false))
	})
}

// finish delivers the final event. Later updates are dropped.
func (p *progressTracker) finish(bytes, chunks, offset int64) {
	if p.report == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.bytes, p.chunks, p.offset = bytes, chunks, offset
	p.report(p.snapshot(true))
}

// snapshot builds an event. Must be called with lock held.
func (p *progressTracker) snapshot(done bool) Progress {
	ev := Progress{
		JobID:          p.jobID,
		BytesProcessed: p.bytes,
		TotalBytes:     p.total,
		ChunksCreated:  p.chunks,
		CurrentOffset:  p.offset,
		Done:           done,
	}
	if p.total > 0 {
		ev.Percent = min(float64(p.bytes)/float64(p.total)*100.0, 100.0)
	} else if done {
		ev.Percent = 100.0
	}
	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 {
		ev.Rate = float64(p.bytes-p.base) / elapsed
	}
	if ev.Rate > 0 && p.total > p.bytes {
		ev.ETA = time.Duration(float64(p.total-p.bytes) / ev.Rate * float64(time.Second))
	}
	return ev
}

// NewProgressPrinter returns an OnProgress callback that redraws a single
// status line on w.
func NewProgressPrinter(w io.Writer) func(Progress) {
	return func(ev Progress) {
		fmt.Fprintf(w, "\rProgress: %d/%d bytes (%.1f%%) - %d chunks - %.1f KiB/s - ETA %s",
			ev.BytesProcessed, ev.TotalBytes, ev.Percent, ev.ChunksCreated,
			ev.Rate/1024, ev.ETA.Round(time.Second))
		if ev.Done {
			fmt.Fprintln(w)
		}
	}
}
