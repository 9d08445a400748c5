package meeting

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiroq/memofy/internal/detect"
)

// ── fakes ────────────────────────────────────────────────────────────────

type fakeSource struct {
	mu      sync.Mutex
	events  chan detect.Event
	started bool
	stopped bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan detect.Event, 16)}
}

func (f *fakeSource) Events() <-chan detect.Event { return f.events }
func (f *fakeSource) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}
func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	f.stopped = true
}
func (f *fakeSource) send(e detect.Event) { f.events <- e }

type fakeMicSource struct {
	*fakeSource
	existing []detect.Usage
}

func (f *fakeMicSource) ExistingUsers() []detect.Usage { return f.existing }

type fakeController struct {
	mu            sync.Mutex
	startCalls    []string
	stopCalls     int
	states        []State
	errs          []error
	startErr      error
	stopErr       error
}

func (c *fakeController) StartRecording(appName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls = append(c.startCalls, appName)
	if c.startErr != nil {
		return "", c.startErr
	}
	return "/rec/001.wav", nil
}

func (c *fakeController) StopRecording() (RecordingMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopCalls++
	if c.stopErr != nil {
		return RecordingMetadata{}, c.stopErr
	}
	return RecordingMetadata{Duration: 1}, nil
}

func (c *fakeController) StateChanged(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *fakeController) RecordingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *fakeController) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.startCalls)
}

func (c *fakeController) lastState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return State{}
	}
	return c.states[len(c.states)-1]
}

func waitForPhase(t *testing.T, d *Detector, phase Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.State().Phase == phase {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %v, got %v", phase, d.State().Phase)
}

func newTestDetector(grace time.Duration) (*Detector, *fakeSource, *fakeMicSource, *fakeController) {
	process := newFakeSource()
	mic := &fakeMicSource{fakeSource: newFakeSource()}
	controller := &fakeController{}
	cfg := DefaultConfig()
	cfg.GracePeriod = grace
	catalog := detect.NewCatalog(nil)
	d := newDetectorWithSources(cfg, catalog, controller, process, mic, nil)
	return d, process, mic, controller
}

// ── scenario 1: auto start/stop via mic ─────────────────────────────────

func TestDetectorAutoStartStopViaMic(t *testing.T) {
	d, process, mic, controller := newTestDetector(40 * time.Millisecond)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)
	if controller.startCount() != 1 {
		t.Fatalf("expected exactly one start-handler call, got %d", controller.startCount())
	}

	mic.send(detect.Event{Kind: detect.KindMicDeactivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseEndingMeeting)

	waitForPhase(t, d, PhaseMonitoring)
	if controller.stopCalls != 1 {
		t.Fatalf("expected exactly one stop-handler call, got %d", controller.stopCalls)
	}
}

// ── scenario 2: grace cancellation ──────────────────────────────────────

func TestDetectorGraceCancellation(t *testing.T) {
	d, process, mic, controller := newTestDetector(200 * time.Millisecond)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)

	mic.send(detect.Event{Kind: detect.KindMicDeactivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseEndingMeeting)

	time.Sleep(50 * time.Millisecond) // well inside the 200ms grace window
	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)

	time.Sleep(250 * time.Millisecond) // past the original grace deadline
	if d.State().Phase != PhaseRecording {
		t.Fatalf("expected to remain in Recording after cancelled grace expired, got %v", d.State().Phase)
	}
	if controller.stopCalls != 0 {
		t.Fatalf("expected stop-handler NOT to be called, got %d calls", controller.stopCalls)
	}
}

// ── scenario 4: pre-existing mic user ───────────────────────────────────

func TestDetectorPreExistingMicUser(t *testing.T) {
	process := newFakeSource()
	mic := &fakeMicSource{
		fakeSource: newFakeSource(),
		existing:   []detect.Usage{{BundleID: "us.zoom.xos", AppName: "zoom.us"}},
	}
	controller := &fakeController{}
	cfg := DefaultConfig()
	catalog := detect.NewCatalog(nil)
	d := newDetectorWithSources(cfg, catalog, controller, process, mic, nil)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseRecording)

	if controller.startCount() != 1 {
		t.Fatalf("expected exactly one start-handler call for the synthetic activation, got %d", controller.startCount())
	}
}

// ── start-handler failure reverts to Monitoring ─────────────────────────

func TestDetectorStartHandlerFailureRevertsToMonitoring(t *testing.T) {
	process := newFakeSource()
	mic := &fakeMicSource{fakeSource: newFakeSource()}
	controller := &fakeController{startErr: errors.New("permission denied")}
	cfg := DefaultConfig()
	catalog := detect.NewCatalog(nil)
	d := newDetectorWithSources(cfg, catalog, controller, process, mic, nil)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(controller.errs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if d.State().Phase != PhaseMonitoring {
		t.Fatalf("expected revert to Monitoring after start failure, got %v", d.State().Phase)
	}
	if len(controller.errs) != 1 {
		t.Fatalf("expected exactly one error notification, got %d", len(controller.errs))
	}

	// A later activation must be able to retry, since coordinator state was
	// unregistered on the failed attempt.
	controller.mu.Lock()
	controller.startErr = nil
	controller.mu.Unlock()
	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)
}

// ── process-set empty stops an in-flight recording exactly once ────────

func TestDetectorProcessSetEmptyStopsRecording(t *testing.T) {
	d, process, mic, controller := newTestDetector(time.Second)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)
	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"removed": "Zoom"}})
	waitForPhase(t, d, PhaseIdle)

	if controller.stopCalls != 1 {
		t.Fatalf("expected exactly one stop-handler call, got %d", controller.stopCalls)
	}
}

// ── force start/stop ─────────────────────────────────────────────────────

func TestDetectorForceStartAndStop(t *testing.T) {
	d, _, _, controller := newTestDetector(time.Second)
	d.Start()
	defer d.Stop()

	if err := d.ForceStartRecording("Zoom"); err != nil {
		t.Fatalf("ForceStartRecording: %v", err)
	}
	if d.State().Phase != PhaseRecording {
		t.Fatalf("expected Recording after force start, got %v", d.State().Phase)
	}
	if err := d.ForceStartRecording("Zoom"); err == nil {
		t.Fatalf("expected error starting an already-recording session")
	}

	if err := d.ForceStopRecording(); err != nil {
		t.Fatalf("ForceStopRecording: %v", err)
	}
	if d.State().Phase != PhaseIdle {
		t.Fatalf("expected Idle after force stop (no apps running), got %v", d.State().Phase)
	}
	if controller.stopCalls != 1 {
		t.Fatalf("expected exactly one stop-handler call, got %d", controller.stopCalls)
	}
}

func TestDetectorStartStopIdempotent(t *testing.T) {
	d, _, _, _ := newTestDetector(time.Second)
	d.Start()
	d.Start()
	d.Stop()
	d.Stop()
}

// ── stop-authority: manual origin outranks an automatic stop ───────────────

func TestDetectorManualSessionOutranksAutoStop(t *testing.T) {
	d, process, _, controller := newTestDetector(time.Second)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	if err := d.ForceStartRecording("Zoom"); err != nil {
		t.Fatalf("ForceStartRecording: %v", err)
	}

	// Process-set-empty is an automatic stop signal; a manually-started
	// session must outrank it.
	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"removed": "Zoom"}})
	time.Sleep(50 * time.Millisecond)
	if d.State().Phase != PhaseRecording {
		t.Fatalf("expected manual session to survive an auto-stop attempt, got %v", d.State().Phase)
	}
	if controller.stopCalls != 0 {
		t.Fatalf("expected stop-handler NOT called for a rejected auto-stop, got %d", controller.stopCalls)
	}

	if err := d.ForceStopRecording(); err != nil {
		t.Fatalf("ForceStopRecording: %v", err)
	}
	if controller.stopCalls != 1 {
		t.Fatalf("expected exactly one stop-handler call after the manual stop, got %d", controller.stopCalls)
	}
}

// ── stop-authority: debounce guard rejects an early non-manual stop ────────

func TestDetectorDebounceGuardRejectsEarlyAutoStop(t *testing.T) {
	d, process, mic, controller := newTestDetector(20 * time.Millisecond)
	d.SetDebounceDuration(150 * time.Millisecond)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)

	mic.send(detect.Event{Kind: detect.KindMicDeactivated, BundleID: "us.zoom.xos"})
	// The grace period (20ms) expires well inside the 150ms debounce window
	// measured from session start, so the auto-stop must be rejected.
	time.Sleep(80 * time.Millisecond)
	if d.State().Phase != PhaseRecording {
		t.Fatalf("expected debounce guard to reject the early auto-stop, got %v", d.State().Phase)
	}
	if controller.stopCalls != 0 {
		t.Fatalf("expected no stop-handler call inside the debounce window, got %d", controller.stopCalls)
	}

	// Past the debounce window, a fresh deactivate/grace-expire cycle
	// succeeds.
	time.Sleep(150 * time.Millisecond)
	mic.send(detect.Event{Kind: detect.KindMicDeactivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseMonitoring)
	if controller.stopCalls != 1 {
		t.Fatalf("expected exactly one stop-handler call once past the debounce window, got %d", controller.stopCalls)
	}
}

// ── priority upgrade while Recording: a WindowTitle detection during a
// mic-driven recording reassigns primary without starting a second
// recording ──────────────────────────────────────────────────────────────

func TestDetectorWindowTitleUpgradesPrimaryDuringRecording(t *testing.T) {
	process := newFakeSource()
	mic := &fakeMicSource{fakeSource: newFakeSource()}
	window := newFakeSource()
	controller := &fakeController{}
	cfg := DefaultConfig()
	cfg.EnableWindowTitleDetection = true
	catalog := detect.NewCatalog(nil)
	d := newDetectorWithSources(cfg, catalog, controller, process, mic, window)
	d.Start()
	defer d.Stop()

	process.send(detect.Event{Kind: detect.KindProcessSetChanged, Metadata: map[string]string{"added": "Zoom"}})
	waitForPhase(t, d, PhaseMonitoring)

	mic.send(detect.Event{Kind: detect.KindMicActivated, BundleID: "us.zoom.xos"})
	waitForPhase(t, d, PhaseRecording)
	if controller.startCount() != 1 {
		t.Fatalf("expected exactly one start-handler call from the mic-driven start, got %d", controller.startCount())
	}

	window.send(detect.Event{Kind: detect.KindWindowMeetingDetected, Title: "Zoom Meeting"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if primary, ok := d.PrimarySource(); ok && primary == detect.SourceWindowTitle {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	primary, ok := d.PrimarySource()
	if !ok || primary != detect.SourceWindowTitle {
		t.Fatalf("expected coordinator primary to upgrade to SourceWindowTitle, got %v (ok=%v)", primary, ok)
	}
	if d.State().Phase != PhaseRecording {
		t.Fatalf("expected to remain in Recording after a priority upgrade, got %v", d.State().Phase)
	}
	if controller.startCount() != 1 {
		t.Fatalf("expected no additional start-handler call from the priority upgrade, got %d", controller.startCount())
	}
}
