package detect

import (
	"strings"
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
)

// WindowClassification is the outcome of classifying a window title.
type WindowClassification int

const (
	ClassificationNotMeeting WindowClassification = iota
	ClassificationLobby
	ClassificationMeeting
)

// WindowRules holds the configurable title-classification patterns.
type WindowRules struct {
	LobbyPatterns   []string // case-insensitive substring match -> lobby
	MeetingPatterns []string // case-insensitive substring match -> meeting
	MeetingSuffixes []string // case-insensitive suffix match -> meeting
}

// DefaultWindowRules holds Zoom's window-title heuristics.
func DefaultWindowRules() WindowRules {
	return WindowRules{
		LobbyPatterns:   []string{"Zoom Cloud Meetings", "Settings", "Join Meeting"},
		MeetingPatterns: []string{"Zoom Meeting", "Meeting ID:", "Waiting Room"},
		MeetingSuffixes: []string{" - Zoom", " | Zoom"},
	}
}

// Classify applies the ordered classification rules to a window title.
func Classify(title string, rules WindowRules) WindowClassification {
	if title == "Zoom" {
		return ClassificationLobby
	}
	lower := strings.ToLower(title)
	for _, p := range rules.LobbyPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return ClassificationLobby
		}
	}
	for _, p := range rules.MeetingPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return ClassificationMeeting
		}
	}
	for _, s := range rules.MeetingSuffixes {
		if strings.HasSuffix(lower, strings.ToLower(s)) {
			return ClassificationMeeting
		}
	}
	return ClassificationNotMeeting
}

// windowProbe abstracts window-title enumeration for a target process.
type windowProbe interface {
	// Titles returns the titles of all windows belonging to processName, or
	// (nil, false) if the process is not currently running.
	Titles(processName string) ([]string, bool)
}

// WindowSource polls the window titles of a target process (default: Zoom)
// and emits MeetingDetected/MeetingEnded events based on title
// classification. The darwin probe reports the process's localized name as
// its only title; the stub probe always reports the process absent.
type WindowSource struct {
	processName  string
	rules        WindowRules
	probe        windowProbe
	pollInterval time.Duration
	logger       *diaglog.Logger

	mu          sync.Mutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	events      chan Event
	meetingSeen bool
}

// NewWindowSource constructs a window-title monitor targeting processName
// using the platform's default probe.
func NewWindowSource(processName string, rules WindowRules, pollInterval time.Duration) *WindowSource {
	return newWindowSourceWithProbe(processName, rules, pollInterval, newAppWindowProbe())
}

func newWindowSourceWithProbe(processName string, rules WindowRules, pollInterval time.Duration, probe windowProbe) *WindowSource {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &WindowSource{
		processName:  processName,
		rules:        rules,
		probe:        probe,
		pollInterval: pollInterval,
		events:       make(chan Event, 8),
	}
}

// SetLogger injects a diagnostic logger.
func (w *WindowSource) SetLogger(l *diaglog.Logger) { w.logger = l }

// Events returns the lazy event stream. Subscribe before calling Start.
func (w *WindowSource) Events() <-chan Event { return w.events }

// Start idempotently begins polling.
func (w *WindowSource) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		w.poll()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				w.poll()
			}
		}
	}()
}

// Stop idempotently releases resources.
func (w *WindowSource) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (w *WindowSource) poll() {
	titles, present := w.probe.Titles(w.processName)

	w.mu.Lock()
	wasMeeting := w.meetingSeen
	w.mu.Unlock()

	if !present {
		if wasMeeting {
			w.mu.Lock()
			w.meetingSeen = false
			w.mu.Unlock()
			w.emit(Event{Source: SourceWindowTitle, Kind: KindWindowMeetingEnded, Timestamp: time.Now()})
		}
		return
	}

	var meetingTitle string
	found := false
	for _, t := range titles {
		if Classify(t, w.rules) == ClassificationMeeting {
			meetingTitle = t
			found = true
			break
		}
	}

	w.mu.Lock()
	w.meetingSeen = found
	w.mu.Unlock()

	switch {
	case found && !wasMeeting:
		w.emit(Event{Source: SourceWindowTitle, Kind: KindWindowMeetingDetected, Title: meetingTitle, Timestamp: time.Now()})
	case !found && wasMeeting:
		w.emit(Event{Source: SourceWindowTitle, Kind: KindWindowMeetingEnded, Timestamp: time.Now()})
	}

	if w.logger != nil && found != wasMeeting {
		w.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentAutoDetector,
			Event:     "window_meeting_state_changed",
			Payload:   map[string]interface{}{"meeting": found, "title": meetingTitle},
		})
	}
}

func (w *WindowSource) emit(e Event) {
	select {
	case w.events <- e:
	default:
		select {
		case <-w.events:
		default:
		}
		select {
		case w.events <- e:
		default:
		}
	}
}
