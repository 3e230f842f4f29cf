package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports re-embedding progress to a writer, typically
// os.Stderr. Reports are rate-limited so tight loops don't flood the
// terminal.
type ProgressTracker struct {
	mu          sync.Mutex
	writer      io.Writer
	label       string
	total       int
	current     int
	startTime   time.Time
	lastReport  time.Time
	reportEvery time.Duration
	started     bool
}

// NewProgressTracker creates a tracker for total items under a label.
func NewProgressTracker(writer io.Writer, label string, total int) *ProgressTracker {
	return &ProgressTracker{
		writer:      writer,
		label:       label,
		total:       total,
		reportEvery: 2 * time.Second,
	}
}

// Start begins tracking.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.lastReport = p.startTime
	p.current = 0
	p.started = true
}

// Add advances progress by delta and reports if enough time has passed.
func (p *ProgressTracker) Add(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current += delta
	if p.current > p.total {
		p.current = p.total
	}

	if time.Since(p.lastReport) >= p.reportEvery {
		p.report()
		p.lastReport = time.Now()
	}
}

// Finish prints the final progress line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current = p.total
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with the lock held.
func (p *ProgressTracker) report() {
	elapsed := time.Since(p.startTime).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.current) / elapsed
	}

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\r%s: %d/%d (%.1f%%) - %.1f items/s",
		p.label, p.current, p.total, percentage, rate)
}
