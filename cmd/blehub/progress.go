package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a countdown line while a timed scan runs.
//
// Usage:
//
//	p := NewCountdownProgressPrinter(w, ...)
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. Stop clears the line and may be called more
// than once.
type ProgressPrinter struct {
	out      io.Writer
	prefix   string
	phase    string
	duration time.Duration
	count    func() int

	started  atomic.Bool
	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

// NewCountdownProgressPrinter creates a printer counting down from duration.
// count, if set, reports a running total shown next to the countdown.
func NewCountdownProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, count func() int) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		prefix:   prefix,
		phase:    phase,
		duration: duration,
		count:    count,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}

	startTime := time.Now()
	p.printProgress(p.duration)

	go func() {
		defer close(p.done)

		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				remaining := p.duration - time.Since(startTime)
				if remaining < 0 {
					remaining = 0
				}
				p.printProgress(remaining)
			}
		}
	}()
}

// Stop terminates the display goroutine and clears the progress line
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
		if p.started.Load() {
			<-p.done
		}
		fmt.Fprint(p.out, clearLineSequence)
	})
}

func (p *ProgressPrinter) printProgress(remaining time.Duration) {
	seconds := int(remaining.Round(time.Second).Seconds())
	line := fmt.Sprintf("%s%s (%s %ds)", clearLineSequence, p.prefix, p.phase, seconds)
	if p.count != nil {
		line += fmt.Sprintf(" %d found", p.count())
	}
	fmt.Fprint(p.out, line)
}
