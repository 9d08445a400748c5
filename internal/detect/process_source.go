package detect

import (
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
)

// processProbe abstracts OS process enumeration so ProcessSource stays
// testable without the real OS. The darwin build wires appProcessProbe
// (backed by darwinkit); other platforms get a stub that never reports a
// running process (see process_source_stub.go).
type processProbe interface {
	// RunningApps returns (bundleID, processName, displayName) triples for
	// every currently-running application.
	RunningApps() []runningApp
}

type runningApp struct {
	BundleID    string
	ProcessName string
	DisplayName string
}

// ProcessSource polls the OS process list every pollInterval and emits
// diffs of the set of running meeting-app display names. It implements the
// "drop-oldest if consumer is slow" backpressure policy via a small
// bounded, non-blocking channel.
type ProcessSource struct {
	catalog      *Catalog
	probe        processProbe
	pollInterval time.Duration
	logger       *diaglog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	events  chan Event
	lastSet map[string]bool
}

// NewProcessSource constructs a process-set monitor using the platform's
// default probe (darwinkit on darwin, a no-op stub elsewhere).
func NewProcessSource(catalog *Catalog, pollInterval time.Duration) *ProcessSource {
	return newProcessSourceWithProbe(catalog, pollInterval, newAppProcessProbe())
}

func newProcessSourceWithProbe(catalog *Catalog, pollInterval time.Duration, probe processProbe) *ProcessSource {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &ProcessSource{
		catalog:      catalog,
		probe:        probe,
		pollInterval: pollInterval,
		events:       make(chan Event, 8),
		lastSet:      make(map[string]bool),
	}
}

// SetLogger injects a diagnostic logger. Safe to call before Start.
func (p *ProcessSource) SetLogger(l *diaglog.Logger) { p.logger = l }

// Events returns the lazy event stream. Callers MUST subscribe (begin
// ranging/selecting on this channel) before calling Start, or early events
// can be missed.
func (p *ProcessSource) Events() <-chan Event { return p.events }

// Start idempotently begins polling. Each poll computes {added, removed}
// relative to the previous poll and emits one KindProcessSetChanged event
// per non-empty diff.
func (p *ProcessSource) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()

		p.poll()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.poll()
			}
		}
	}()
}

// Stop idempotently releases resources and terminates the event stream.
func (p *ProcessSource) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// PollNow forces an immediate poll outside the regular cadence, used by the
// wake-recheck path. Safe to call whether or not the source is currently
// running.
func (p *ProcessSource) PollNow() {
	p.poll()
}

func (p *ProcessSource) poll() {
	current := make(map[string]bool)
	for _, ra := range p.probe.RunningApps() {
		if app, ok := p.resolve(ra); ok {
			current[app.DisplayName] = true
		}
	}

	p.mu.Lock()
	var added, removed []string
	for name := range current {
		if !p.lastSet[name] {
			added = append(added, name)
		}
	}
	for name := range p.lastSet {
		if !current[name] {
			removed = append(removed, name)
		}
	}
	p.lastSet = current
	p.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		return
	}

	p.emit(Event{
		Source:    SourceManual, // process-set events are source-agnostic; detector reads Metadata
		Kind:      KindProcessSetChanged,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"added": joinNames(added), "removed": joinNames(removed)},
	})
	if p.logger != nil {
		p.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentAutoDetector,
			Event:     "process_set_changed",
			Payload:   map[string]interface{}{"added": added, "removed": removed},
		})
	}
}

// resolve applies the four-rule ordered match: exact bundle id, then
// Zoom-family prefix, then the case-insensitive substring fallback, then
// custom apps last, skipping browser-based catalog entries (tracked via mic
// only) at every tier.
func (p *ProcessSource) resolve(ra runningApp) (App, bool) {
	if app, ok := p.catalog.MatchBundleIDPrefix(ra.BundleID); ok && !app.BrowserBased {
		return app, true
	}
	if app, ok := p.catalog.MatchProcessName(ra.ProcessName, ra.DisplayName); ok && !app.BrowserBased {
		return app, true
	}
	if app, ok := p.catalog.MatchCustomApp(ra.BundleID); ok && !app.BrowserBased {
		return app, true
	}
	return App{}, false
}

func (p *ProcessSource) emit(e Event) {
	select {
	case p.events <- e:
	default:
		// drop-oldest: make room for the freshest delta.
		select {
		case <-p.events:
		default:
		}
		select {
		case p.events <- e:
		default:
		}
	}
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}
