package meeting

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/detect"
	"github.com/tiroq/memofy/internal/diaglog"
)

// Config holds the detector's hot-applicable configuration.
type Config struct {
	CheckOnWake                bool
	MicPollingInterval         time.Duration
	WindowPollingInterval      time.Duration
	EnableWindowTitleDetection bool
	WindowTargetProcess        string
	GracePeriod                time.Duration
}

// DefaultConfig returns the detector's out-of-the-box configuration.
func DefaultConfig() Config {
	return Config{
		CheckOnWake:                true,
		MicPollingInterval:         time.Second,
		WindowPollingInterval:      time.Second,
		EnableWindowTitleDetection: false,
		WindowTargetProcess:        "zoom.us",
		GracePeriod:                8 * time.Second,
	}
}

// eventSource is the common surface of all three detect signal sources:
// lazy start/stop plus a lazy event stream. Kept as an interface (rather
// than depending on the concrete detect types) so tests can substitute fakes
// without any test-only exports from package detect.
type eventSource interface {
	Events() <-chan detect.Event
	Start()
	Stop()
}

// micEventSource additionally exposes the pre-existing-user query used by
// the Idle->Monitoring synthetic-activation injection.
type micEventSource interface {
	eventSource
	ExistingUsers() []detect.Usage
}

// loggable is implemented by sources that accept a diagnostic logger.
type loggable interface {
	SetLogger(*diaglog.Logger)
}

// Detector is the core meeting-detection state machine. It owns the three
// signal sources, the priority coordinator, and a capability handle to the
// embedder's recording controller. All public methods are serialized behind
// a single mutex: the detector is a single-owner actor with no internal
// parallelism.
type Detector struct {
	mu     sync.Mutex
	cfg    Config
	logger *diaglog.Logger

	catalog     *detect.Catalog
	coordinator *detect.Coordinator
	controller  RecordingController

	processSource eventSource
	micSource     micEventSource
	windowSource  eventSource

	state                    State
	runningApps              map[string]bool
	currentRecordingBundleID string

	session     *recordingSession // non-nil while a recording is in flight
	debounceDur time.Duration     // stop-authority debounce window; 0 disables it

	graceCancel chan struct{} // non-nil iff the grace-period task is live

	started    bool
	micRunning bool
	winRunning bool
	stopCh     chan struct{}
}

// NewDetector constructs a detector in the Idle state. catalog should
// already reflect the embedder's enabled_apps/custom-app configuration.
func NewDetector(cfg Config, catalog *detect.Catalog, controller RecordingController) *Detector {
	var window eventSource
	if cfg.EnableWindowTitleDetection {
		window = detect.NewWindowSource(cfg.WindowTargetProcess, detect.DefaultWindowRules(), cfg.WindowPollingInterval)
	}
	return newDetectorWithSources(cfg, catalog, controller,
		detect.NewProcessSource(catalog, 5*time.Second),
		detect.NewMicrophoneSource(catalog, cfg.MicPollingInterval),
		window,
	)
}

func newDetectorWithSources(cfg Config, catalog *detect.Catalog, controller RecordingController, process eventSource, mic micEventSource, window eventSource) *Detector {
	return &Detector{
		cfg:           cfg,
		catalog:       catalog,
		coordinator:   detect.NewCoordinator(),
		controller:    controller,
		processSource: process,
		micSource:     mic,
		windowSource:  window,
		state:         idleState(),
		runningApps:   make(map[string]bool),
	}
}

// SetDebounceDuration opts into the stop-authority debounce guard: a
// non-manual stop request within dur of a session's start is rejected. Off
// (zero) by default, since the grace-period timer already delays
// auto-driven teardown; set dur to guard additionally against a stop racing
// a just-started session.
func (d *Detector) SetDebounceDuration(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.debounceDur = dur
}

// SetLogger injects a diagnostic logger, propagated to the owned sources.
func (d *Detector) SetLogger(l *diaglog.Logger) {
	d.logger = l
	if lg, ok := d.processSource.(loggable); ok {
		lg.SetLogger(l)
	}
	if lg, ok := d.micSource.(loggable); ok {
		lg.SetLogger(l)
	}
	if lg, ok := d.windowSource.(loggable); ok {
		lg.SetLogger(l)
	}
}

// State returns a snapshot of the detector's current state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ActiveSources returns the coordinator's currently active sources, for
// status reporting.
func (d *Detector) ActiveSources() []detect.Source {
	return d.coordinator.ActiveSources()
}

// PrimarySource returns the coordinator's current primary source, if any.
func (d *Detector) PrimarySource() (detect.Source, bool) {
	return d.coordinator.Primary()
}

// Start idempotently wires the event loops and launches the process-scan
// loop. Every source's event stream is subscribed to before that source is
// ever started, so no early event is lost.
func (d *Detector) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	go d.runLoop(d.processSource.Events(), d.handleProcessEvent, stopCh)
	go d.runLoop(d.micSource.Events(), d.handleMicEvent, stopCh)
	if d.windowSource != nil {
		go d.runLoop(d.windowSource.Events(), d.handleWindowEvent, stopCh)
	}

	d.processSource.Start()
}

// Stop idempotently cancels every owned loop, the grace timer, and stops all
// sources, transitioning to Idle.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	close(d.stopCh)
	d.cancelGraceLocked()
	d.coordinator.Reset()
	d.currentRecordingBundleID = ""
	d.session = nil
	d.runningApps = make(map[string]bool)
	micRunning := d.micRunning
	winRunning := d.winRunning
	d.micRunning = false
	d.winRunning = false
	d.state = idleState()
	d.mu.Unlock()

	d.processSource.Stop()
	if micRunning {
		d.micSource.Stop()
	}
	if winRunning && d.windowSource != nil {
		d.windowSource.Stop()
	}
}

// HandleSystemWake sleeps 2s for apps to re-hydrate, then forces an
// immediate process scan. Idle → any meeting app running transitions to
// Monitoring via the normal process-event path.
func (d *Detector) HandleSystemWake() {
	time.Sleep(2 * time.Second)
	if p, ok := d.processSource.(interface{ PollNow() }); ok {
		p.PollNow()
	}
}

// ForceStartRecording is a manual override obeying the same invariants as an
// automatic transition.
func (d *Detector) ForceStartRecording(appName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state.Phase {
	case PhaseRecording, PhaseMeetingDetected:
		return fmt.Errorf("already recording")
	}

	d.cancelGraceLocked()
	d.state = meetingDetectedState(appName)
	d.controller.StateChanged(d.state)

	path, err := d.controller.StartRecording(appName)
	if err != nil {
		d.controller.RecordingError(err)
		d.state = d.monitoringOrIdleLocked()
		d.controller.StateChanged(d.state)
		return err
	}
	_ = path

	d.coordinator.Register(detect.SourceManual)
	d.currentRecordingBundleID = appName
	d.session = d.newSessionLocked(OriginManual)
	d.logStartLocked(OriginManual, appName)
	d.state = recordingState(appName)
	d.controller.StateChanged(d.state)
	return nil
}

// ForceStopRecording is a manual override stop. A manual request always
// outranks whatever origin started the session and is never subject to the
// debounce guard, so it always succeeds. It re-arms monitoring so a
// subsequent mic activation starts a fresh recording.
func (d *Detector) ForceStopRecording() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state.Phase {
	case PhaseRecording, PhaseEndingMeeting:
	default:
		return fmt.Errorf("not recording")
	}

	d.cancelGraceLocked()
	d.performStopLocked(StopRequest{Origin: OriginManual, Reason: "user_requested", Component: "ipc"})

	d.coordinator.Reset()
	d.currentRecordingBundleID = ""
	d.state = d.monitoringOrIdleLocked()
	d.controller.StateChanged(d.state)
	return nil
}

// ResetRecordingState handles the case where recording was stopped
// externally (e.g. via the menu bar): the detector must not issue a
// redundant stop-handler call, but must re-arm monitoring. There is nothing
// left to protect by the time this is called (the capture already stopped
// out-of-band), so it always clears session tracking rather than rejecting.
func (d *Detector) ResetRecordingState() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.logger != nil && d.session != nil {
		d.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentMeetingDetector,
			Event:     diaglog.EventRecordingStop,
			SessionID: d.session.SessionID,
			Reason:    "external_reset",
			Payload:   map[string]interface{}{"requested_by": string(OriginForced), "component": "ipc"},
		})
	}

	d.cancelGraceLocked()
	d.coordinator.Reset()
	d.currentRecordingBundleID = ""
	d.session = nil
	d.state = d.monitoringOrIdleLocked()
	d.controller.StateChanged(d.state)
}

// UpdateConfiguration hot-applies new configuration. The grace period takes
// effect for the next deactivation, not any grace task already in flight.
func (d *Detector) UpdateConfiguration(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// ── internal event dispatch ──────────────────────────────────────────────

func (d *Detector) runLoop(events <-chan detect.Event, handle func(detect.Event), stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case e := <-events:
			handle(e)
		}
	}
}

func (d *Detector) handleProcessEvent(e detect.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasEmpty := len(d.runningApps) == 0
	for _, name := range splitNames(e.Metadata["added"]) {
		d.runningApps[name] = true
	}
	for _, name := range splitNames(e.Metadata["removed"]) {
		delete(d.runningApps, name)
	}
	nowEmpty := len(d.runningApps) == 0

	if nowEmpty {
		d.transitionToIdleLocked()
		return
	}

	if wasEmpty && d.state.Phase == PhaseIdle {
		d.state = monitoringState(d.joinRunningAppsLocked())
		d.controller.StateChanged(d.state)
		d.startMicAndWindowLocked()
		return
	}

	if d.state.Phase == PhaseMonitoring {
		apps := d.joinRunningAppsLocked()
		if apps != d.state.Apps {
			d.state = monitoringState(apps)
			d.controller.StateChanged(d.state)
		}
	}
}

// transitionToIdleLocked implements the "Any, Process-set empty -> Idle"
// row: stop mic/window monitors; if a recording was in flight, call the stop
// handler exactly once first.
func (d *Detector) transitionToIdleLocked() {
	d.cancelGraceLocked()

	wasActive := d.state.Phase == PhaseRecording || d.state.Phase == PhaseEndingMeeting || d.state.Phase == PhaseMeetingDetected
	if wasActive {
		req := StopRequest{Origin: OriginAuto, Reason: "process_set_empty", Component: "process-source"}
		if !d.performStopLocked(req) {
			// A manually-started session outranks a process-absence stop:
			// keep recording even though nothing remains in the process set
			// to drive a future auto-activation.
			return
		}
	}

	d.coordinator.Reset()
	d.currentRecordingBundleID = ""
	d.stopMicAndWindowLocked()
	d.state = idleState()
	d.controller.StateChanged(d.state)
}

func (d *Detector) handleMicEvent(e detect.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handleMicEventLocked(e)
}

func (d *Detector) handleMicEventLocked(e detect.Event) {
	app, ok := d.catalog.MatchBundleID(e.BundleID)
	if !ok {
		return
	}

	switch e.Kind {
	case detect.KindMicActivated:
		recordingBundleID := detect.ResolveRecordingBundleID(e.BundleID)
		switch d.state.Phase {
		case PhaseMonitoring:
			started := d.coordinator.Register(detect.SourceMicrophoneActive)
			if started {
				d.startRecordingLocked(app.DisplayName, recordingBundleID, detect.SourceMicrophoneActive)
			}
		case PhaseEndingMeeting:
			d.coordinator.Register(detect.SourceMicrophoneActive)
			d.cancelGraceLocked()
			d.state = recordingState(d.state.App)
			d.controller.StateChanged(d.state)
		case PhaseRecording:
			d.coordinator.Register(detect.SourceMicrophoneActive)
		}
	case detect.KindMicDeactivated:
		d.coordinator.Remove(detect.SourceMicrophoneActive)
		if d.state.Phase == PhaseRecording {
			d.state = endingMeetingState(d.state.App)
			d.controller.StateChanged(d.state)
			d.startGraceLocked()
		}
	}
}

func (d *Detector) handleWindowEvent(e detect.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch e.Kind {
	case detect.KindWindowMeetingDetected:
		switch d.state.Phase {
		case PhaseMonitoring:
			started := d.coordinator.Register(detect.SourceWindowTitle)
			if started {
				d.startRecordingLocked(e.Title, "", detect.SourceWindowTitle)
			}
		default:
			// Priority upgrade only: the coordinator may reassign primary
			// without starting a new recording.
			d.coordinator.Register(detect.SourceWindowTitle)
		}
	case detect.KindWindowMeetingEnded:
		d.coordinator.Remove(detect.SourceWindowTitle)
	}
}

// startRecordingLocked drives Monitoring -> MeetingDetected -> Recording. On
// start-handler failure it reverts to Monitoring and unregisters src so a
// later activation can retry.
func (d *Detector) startRecordingLocked(appName, bundleID string, src detect.Source) {
	d.state = meetingDetectedState(appName)
	d.controller.StateChanged(d.state)

	path, err := d.controller.StartRecording(appName)
	if err != nil {
		d.controller.RecordingError(err)
		d.coordinator.Remove(src)
		d.state = monitoringState(d.joinRunningAppsLocked())
		d.controller.StateChanged(d.state)
		return
	}
	_ = path

	d.currentRecordingBundleID = bundleID
	d.session = d.newSessionLocked(OriginAuto)
	d.logStartLocked(OriginAuto, appName)
	d.state = recordingState(appName)
	d.controller.StateChanged(d.state)
}

// newSessionLocked stamps a fresh session id and start time for origin.
func (d *Detector) newSessionLocked(origin RecordingOrigin) *recordingSession {
	return &recordingSession{SessionID: newSessionID(), Origin: origin, StartedAt: time.Now()}
}

func (d *Detector) logStartLocked(origin RecordingOrigin, appName string) {
	if d.logger == nil {
		return
	}
	sid := ""
	if d.session != nil {
		sid = d.session.SessionID
	}
	d.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentMeetingDetector,
		Event:     diaglog.EventRecordingStart,
		SessionID: sid,
		Payload:   map[string]interface{}{"origin": string(origin), "app": appName},
	})
}

// stopAuthorityLocked reports whether req may stop the in-flight session.
// A manual-origin session rejects any lower-priority stop request; any
// non-manual request inside a configured debounce window of session start
// is also rejected. A nil session (nothing tracked) always allows the stop,
// since there is nothing to protect. Rejections are logged via diaglog. The
// debounce guard is off by default (SetDebounceDuration opts in), so the
// grace-period timer remains the only built-in delay on an auto-driven stop.
func (d *Detector) stopAuthorityLocked(req StopRequest) bool {
	if d.session == nil {
		return true
	}
	if d.session.Origin == OriginManual && priorityOf(req.Origin) < priorityOf(OriginManual) {
		d.logStopRejectedLocked(req, "manual_origin_override")
		return false
	}
	if req.Origin != OriginManual && d.debounceDur > 0 && time.Since(d.session.StartedAt) < d.debounceDur {
		d.logStopRejectedLocked(req, "debounce_guard")
		return false
	}
	return true
}

func (d *Detector) logStopRejectedLocked(req StopRequest, reason string) {
	if d.logger == nil {
		return
	}
	sid := ""
	if d.session != nil {
		sid = d.session.SessionID
	}
	d.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentMeetingDetector,
		Event:     diaglog.EventRecordingStopRejected,
		SessionID: sid,
		Reason:    reason,
		Payload: map[string]interface{}{
			"requested_by": string(req.Origin),
			"component":    req.Component,
			"reason":       req.Reason,
		},
	})
}

// performStopLocked runs the stop-authority check and, if it passes, calls
// through to the controller and clears session tracking. Returns false if
// the request was rejected, in which case the recording is left untouched.
func (d *Detector) performStopLocked(req StopRequest) bool {
	if !d.stopAuthorityLocked(req) {
		return false
	}
	sid := ""
	if d.session != nil {
		sid = d.session.SessionID
	}

	_, err := d.controller.StopRecording()
	if err != nil {
		d.controller.RecordingError(err)
	}

	if d.logger != nil {
		d.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentMeetingDetector,
			Event:     diaglog.EventRecordingStop,
			SessionID: sid,
			Reason:    req.Reason,
			Payload:   map[string]interface{}{"requested_by": string(req.Origin), "component": req.Component},
		})
	}

	d.session = nil
	return true
}

// startMicAndWindowLocked starts the mic monitor (and window monitor, if
// enabled) and injects synthetic activations for any pre-existing mic user
// that matches a meeting app, so a mic already active when monitoring
// begins is not missed.
func (d *Detector) startMicAndWindowLocked() {
	if !d.micRunning {
		d.micSource.Start()
		d.micRunning = true
		for _, u := range d.micSource.ExistingUsers() {
			if _, ok := d.catalog.MatchBundleID(u.BundleID); ok {
				d.handleMicEventLocked(detect.Event{
					Source:   detect.SourceMicrophoneActive,
					Kind:     detect.KindMicActivated,
					BundleID: u.BundleID,
					AppName:  u.AppName,
				})
			}
		}
	}
	if d.windowSource != nil && !d.winRunning {
		d.windowSource.Start()
		d.winRunning = true
	}
}

func (d *Detector) stopMicAndWindowLocked() {
	if d.micRunning {
		d.micSource.Stop()
		d.micRunning = false
	}
	if d.windowSource != nil && d.winRunning {
		d.windowSource.Stop()
		d.winRunning = false
	}
}

// startGraceLocked launches the grace-period task on entering EndingMeeting.
func (d *Detector) startGraceLocked() {
	d.cancelGraceLocked()
	cancel := make(chan struct{})
	d.graceCancel = cancel
	grace := d.cfg.GracePeriod
	if grace <= 0 {
		grace = 8 * time.Second
	}
	app := d.state.App

	go func() {
		select {
		case <-cancel:
			return
		case <-time.After(grace):
			d.onGraceExpired(cancel, app)
		}
	}()
}

// onGraceExpired fires once the grace timer completes uncancelled. It
// re-checks that the cancellation token is still current (guards against a
// cancel/restart race) and that the coordinator truly has no other source
// before tearing down the recording.
func (d *Detector) onGraceExpired(token chan struct{}, app string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.graceCancel != token {
		return // superseded by a later grace task or already cancelled
	}
	d.graceCancel = nil

	if d.state.Phase != PhaseEndingMeeting {
		return
	}
	if d.coordinator.HasActive() {
		// Another source (e.g. window title) is still active; stay in
		// Recording rather than tearing down.
		d.state = recordingState(app)
		d.controller.StateChanged(d.state)
		return
	}

	req := StopRequest{Origin: OriginAuto, Reason: "mic_deactivated_grace_expired", Component: "meeting-detector"}
	if !d.performStopLocked(req) {
		// Manual session outranks the automatic grace-period teardown.
		d.state = recordingState(app)
		d.controller.StateChanged(d.state)
		return
	}
	d.currentRecordingBundleID = ""

	if len(d.runningApps) > 0 {
		d.state = monitoringState(d.joinRunningAppsLocked())
	} else {
		d.state = idleState()
	}
	d.controller.StateChanged(d.state)
}

// cancelGraceLocked idempotently cancels any live grace-period task.
func (d *Detector) cancelGraceLocked() {
	if d.graceCancel != nil {
		close(d.graceCancel)
		d.graceCancel = nil
	}
}

func (d *Detector) monitoringOrIdleLocked() State {
	if len(d.runningApps) > 0 {
		return monitoringState(d.joinRunningAppsLocked())
	}
	return idleState()
}

func (d *Detector) joinRunningAppsLocked() string {
	names := make([]string, 0, len(d.runningApps))
	for n := range d.runningApps {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func splitNames(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}
