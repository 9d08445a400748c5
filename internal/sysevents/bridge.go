// Package sysevents bridges OS sleep/wake and screen lock/unlock
// notifications into a lazy event stream the meeting detector can react to.
package sysevents

import (
	"sync"
	"time"
)

// Kind distinguishes the four system events the bridge forwards.
type Kind int

const (
	KindWillSleep Kind = iota
	KindDidWake
	KindScreenLocked
	KindScreenUnlocked
)

func (k Kind) String() string {
	switch k {
	case KindWillSleep:
		return "will_sleep"
	case KindDidWake:
		return "did_wake"
	case KindScreenLocked:
		return "screen_locked"
	case KindScreenUnlocked:
		return "screen_unlocked"
	default:
		return "unknown"
	}
}

// sysProbe abstracts OS power/session-state polling so Bridge stays
// testable without the real OS.
type sysProbe interface {
	// Poll returns the events that occurred since the previous call.
	Poll() []Kind
}

// Bridge exposes a lazy sequence of system events, polling the OS at a
// fixed cadence. The detector reacts only to DidWake (and ScreenUnlocked
// when configured to) by calling Detector.HandleSystemWake.
type Bridge struct {
	probe        sysProbe
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	events  chan Kind
}

// NewBridge constructs a system-event bridge using the platform's default
// probe (a no-op stub on platforms without one wired up).
func NewBridge(pollInterval time.Duration) *Bridge {
	return newBridgeWithProbe(pollInterval, newSysProbe())
}

func newBridgeWithProbe(pollInterval time.Duration, probe sysProbe) *Bridge {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Bridge{probe: probe, pollInterval: pollInterval, events: make(chan Kind, 8)}
}

// Events returns the lazy event stream. Subscribe before calling Start.
func (b *Bridge) Events() <-chan Kind { return b.events }

// Start idempotently begins polling.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(b.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				for _, k := range b.probe.Poll() {
					b.emit(k)
				}
			}
		}
	}()
}

// Stop idempotently releases resources.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (b *Bridge) emit(k Kind) {
	select {
	case b.events <- k:
	default:
		select {
		case <-b.events:
		default:
		}
		select {
		case b.events <- k:
		default:
		}
	}
}

// WakeHandler is the capability the bridge drives on wake-equivalent
// events: meeting.Detector.HandleSystemWake.
type WakeHandler interface {
	HandleSystemWake()
}

// Run subscribes to the bridge's event stream and calls handler.HandleSystemWake
// on DidWake (always) and ScreenUnlocked (only when checkOnWake is true).
// It returns a stop function.
func Run(b *Bridge, handler WakeHandler, checkOnWake bool) func() {
	stopCh := make(chan struct{})
	events := b.Events()
	b.Start()

	go func() {
		for {
			select {
			case <-stopCh:
				return
			case k := <-events:
				switch k {
				case KindDidWake:
					handler.HandleSystemWake()
				case KindScreenUnlocked:
					if checkOnWake {
						handler.HandleSystemWake()
					}
				}
			}
		}
	}()

	return func() {
		close(stopCh)
		b.Stop()
	}
}
