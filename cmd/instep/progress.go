package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressTickInterval = 100 * time.Millisecond
	clearLineSequence    = "\r\033[K"
)

// ProgressPrinter renders a single updating status line while a command
// phase runs, showing elapsed seconds, or remaining seconds in countdown
// mode.
//
// A printer is single-use: call Start at most once and Stop exactly once.
// Stop must be called to terminate the internal goroutine.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value        // current phase name
	stopPhases map[string]struct{} // phases that trigger a shutdown
	countdown  time.Duration       // 0 counts up instead
	startedAt  time.Time
	started    atomic.Bool
	ticker     atomic.Pointer[time.Ticker]
	quit       chan struct{}
	done       chan struct{}
}

// NewProgressPrinter creates a printer showing elapsed time. Setting one of
// stopPhases via Callback shuts the printer down automatically.
func NewProgressPrinter(prefix, phase string, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stopSet,
	}
	p.phase.Store(phase)
	return p
}

// WithCountdown switches the printer to showing time remaining out of d.
// A non-positive d keeps the count-up display.
func (p *ProgressPrinter) WithCountdown(d time.Duration) *ProgressPrinter {
	if d > 0 {
		p.countdown = d
	}
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics when called twice on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	p.startedAt = time.Now()
	ticker := time.NewTicker(progressTickInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(string))

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.quit:
				return
			case <-ticker.C:
				phase := p.phase.Load().(string)
				if _, stop := p.stopPhases[phase]; stop {
					return
				}
				p.printLine(phase)
			}
		}
	}()
}

func (p *ProgressPrinter) printLine(phase string) {
	seconds := p.secondsForDisplay()
	if seconds > 0 {
		fmt.Printf("\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Printf("\r%s (%s...)   ", p.prefix, phase)
	}
}

func (p *ProgressPrinter) secondsForDisplay() int {
	elapsed := time.Since(p.startedAt)
	if p.countdown == 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.countdown - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest whole second.
	return int(remaining.Seconds() + 0.5)
}

// Callback returns a phase-change function suitable for passing to scan and
// session progress hooks. Safe for concurrent use; a stop phase triggers
// Stop.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop halts the display and clears the progress line. Safe to call
// multiple times and from multiple goroutines; only the first call acts.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.quit)
	<-p.done

	fmt.Print(clearLineSequence)
}
