package detect

import (
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
)

// Usage describes one OS-level audio input client.
type Usage struct {
	BundleID string
	AppName  string
	PID      int
}

// micProbe abstracts microphone-client enumeration.
type micProbe interface {
	ActiveClients() []Usage
}

// MicrophoneSource polls OS audio-input clients at pollInterval and diffs
// client sets by bundle id.
type MicrophoneSource struct {
	probe        micProbe
	pollInterval time.Duration
	logger       *diaglog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	events  chan Event
	lastSet map[string]Usage
}

// NewMicrophoneSource constructs a microphone-usage monitor using the
// platform's default probe, restricted to catalog to bound the probe's
// false-positive surface (see appMicProbe's doc comment). The detector still
// re-checks every reported client against the catalog itself: this
// restriction is a platform-probe optimization, not a substitute for that
// check.
func NewMicrophoneSource(catalog *Catalog, pollInterval time.Duration) *MicrophoneSource {
	return newMicrophoneSourceWithProbe(pollInterval, newAppMicProbe(catalog))
}

func newMicrophoneSourceWithProbe(pollInterval time.Duration, probe micProbe) *MicrophoneSource {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &MicrophoneSource{
		probe:        probe,
		pollInterval: pollInterval,
		events:       make(chan Event, 8),
		lastSet:      make(map[string]Usage),
	}
}

// SetLogger injects a diagnostic logger.
func (m *MicrophoneSource) SetLogger(l *diaglog.Logger) { m.logger = l }

// Events returns the lazy event stream. Subscribe before calling Start.
func (m *MicrophoneSource) Events() <-chan Event { return m.events }

// Start idempotently begins polling. The FIRST poll establishes the
// baseline silently (no synthetic events here); MeetingDetector is
// responsible for calling
// ExistingUsers immediately after Start returns and injecting synthetic
// activations for matches, since only the detector knows which matches are
// "pre-existing" versus "this poll's genuine delta".
func (m *MicrophoneSource) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	// Establish the baseline synchronously so ExistingUsers (called right
	// after Start by the detector) observes the same set the poll loop will
	// diff against, avoiding a duplicate synthetic+real activation race.
	m.mu.Lock()
	for _, u := range m.probe.ActiveClients() {
		m.lastSet[u.BundleID] = u
	}
	m.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.poll()
			}
		}
	}()
}

// Stop idempotently releases resources.
func (m *MicrophoneSource) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh := m.stopCh
	doneCh := m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// ExistingUsers returns the microphone clients present at the moment Start
// established its baseline. No catalog filtering happens here: the darwin
// probe only reports catalog apps, and the detector matches each entry
// against the catalog before it injects a synthetic activation.
func (m *MicrophoneSource) ExistingUsers() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Usage, 0, len(m.lastSet))
	for _, u := range m.lastSet {
		out = append(out, u)
	}
	return out
}

func (m *MicrophoneSource) poll() {
	current := make(map[string]Usage)
	for _, u := range m.probe.ActiveClients() {
		current[u.BundleID] = u
	}

	m.mu.Lock()
	var activated, deactivated []Usage
	for id, u := range current {
		if _, ok := m.lastSet[id]; !ok {
			activated = append(activated, u)
		}
	}
	for id, u := range m.lastSet {
		if _, ok := current[id]; !ok {
			deactivated = append(deactivated, u)
		}
	}
	m.lastSet = current
	m.mu.Unlock()

	now := time.Now()
	for _, u := range activated {
		m.emit(Event{Source: SourceMicrophoneActive, Kind: KindMicActivated, BundleID: u.BundleID, AppName: u.AppName, Timestamp: now})
	}
	for _, u := range deactivated {
		m.emit(Event{Source: SourceMicrophoneActive, Kind: KindMicDeactivated, BundleID: u.BundleID, AppName: u.AppName, Timestamp: now})
	}
	if len(activated) == 0 && len(deactivated) == 0 {
		m.emit(Event{Source: SourceMicrophoneActive, Kind: KindMicNoChange, Timestamp: now})
	}

	if m.logger != nil && (len(activated) > 0 || len(deactivated) > 0) {
		m.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentAutoDetector,
			Event:     "mic_usage_changed",
			Payload:   map[string]interface{}{"activated": len(activated), "deactivated": len(deactivated)},
		})
	}
}

func (m *MicrophoneSource) emit(e Event) {
	select {
	case m.events <- e:
	default:
		select {
		case <-m.events:
		default:
		}
		select {
		case m.events <- e:
		default:
		}
	}
}
