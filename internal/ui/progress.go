package ui

import (
	"sync"
	"time"
)

// etaSmoothing weights a new ETA sample against the previous estimate.
const etaSmoothing = 0.3

// ProgressTracker holds the latest progress state. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	started     time.Time
	stageStart  time.Time
	lastETA     time.Duration
	errors      int
	warnings    int
	now         func() time.Time
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	Elapsed     time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a tracker at StageScanning.
func NewProgressTracker() *ProgressTracker {
	return newTrackerAt(time.Now)
}

func newTrackerAt(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{stage: StageScanning, started: t, stageStart: t, now: now}
}

// Apply records an event, switching stage when it changes.
func (p *ProgressTracker) Apply(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage || event.Total != p.total {
		p.stage = event.Stage
		p.total = event.Total
		p.stageStart = p.now()
		p.lastETA = 0
	}
	p.current = event.Current
	if event.CurrentFile != "" {
		p.currentFile = event.CurrentFile
	}
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot. It advances the ETA smoothing.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.progress(),
		ETA:         p.eta(),
		Elapsed:     p.now().Sub(p.started),
		CurrentFile: p.currentFile,
		ErrorCount:  p.errors,
		WarnCount:   p.warnings,
	}
}

func (p *ProgressTracker) progress() float64 {
	if p.total <= 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// eta extrapolates the current stage's rate, smoothed so uneven file sizes
// do not make the estimate jump. Must hold mu.
func (p *ProgressTracker) eta() time.Duration {
	progress := p.progress()
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.stageStart)
	remaining := time.Duration(float64(elapsed)/progress) - elapsed
	if remaining < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothing*float64(remaining) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
