package detect

import (
	"sync"
	"testing"
	"time"
)

type fakeMicProbe struct {
	mu      sync.Mutex
	clients []Usage
}

func (f *fakeMicProbe) set(clients []Usage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = clients
}

func (f *fakeMicProbe) ActiveClients() []Usage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Usage, len(f.clients))
	copy(out, f.clients)
	return out
}

func TestMicrophoneSourceBaselineIsSilent(t *testing.T) {
	probe := &fakeMicProbe{clients: []Usage{{BundleID: "us.zoom.xos", AppName: "zoom.us"}}}
	src := newMicrophoneSourceWithProbe(20*time.Millisecond, probe)

	events := src.Events()
	src.Start()
	defer src.Stop()

	// Start must not itself emit an Activated event for the pre-existing
	// baseline; that is the detector's job via ExistingUsers + synthetic
	// injection. Only NoChange events (ignored by consumers) may appear.
	deadline := time.After(80 * time.Millisecond)
loop:
	for {
		select {
		case e := <-events:
			if e.Kind != KindMicNoChange {
				t.Fatalf("expected only NoChange events from Start's baseline poll, got %+v", e)
			}
		case <-deadline:
			break loop
		}
	}

	users := src.ExistingUsers()
	if len(users) != 1 || users[0].BundleID != "us.zoom.xos" {
		t.Fatalf("expected baseline to contain zoom usage, got %+v", users)
	}
}

func TestMicrophoneSourceEmitsActivatedAndDeactivated(t *testing.T) {
	probe := &fakeMicProbe{}
	src := newMicrophoneSourceWithProbe(20*time.Millisecond, probe)

	events := src.Events()
	src.Start()
	defer src.Stop()

	probe.set([]Usage{{BundleID: "us.zoom.xos", AppName: "zoom.us"}})
	e := drainEventSkippingNoChange(t, events)
	if e.Kind != KindMicActivated || e.BundleID != "us.zoom.xos" {
		t.Fatalf("expected KindMicActivated for zoom, got %+v", e)
	}

	probe.set(nil)
	e = drainEventSkippingNoChange(t, events)
	if e.Kind != KindMicDeactivated || e.BundleID != "us.zoom.xos" {
		t.Fatalf("expected KindMicDeactivated for zoom, got %+v", e)
	}
}

func drainEventSkippingNoChange(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == KindMicNoChange {
				continue
			}
			return e
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestMicrophoneSourceStartStopIdempotent(t *testing.T) {
	src := newMicrophoneSourceWithProbe(20*time.Millisecond, &fakeMicProbe{})
	src.Start()
	src.Start()
	src.Stop()
	src.Stop()
}
