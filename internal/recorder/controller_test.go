package recorder

import (
	"errors"
	"testing"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
	"github.com/tiroq/memofy/internal/meeting"
)

// Compile-time interface compliance check.
var _ meeting.RecordingController = (*Controller)(nil)

type fakeBackend struct {
	startCalls  []string
	stopReasons []string
	startErr    error
	stopErr     error
	outputPath  string
}

func (f *fakeBackend) Connect() error               { return nil }
func (f *fakeBackend) Disconnect()                  {}
func (f *fakeBackend) IsConnected() bool            { return true }
func (f *fakeBackend) HealthCheck() error           { return nil }
func (f *fakeBackend) SetLogger(l *diaglog.Logger)  {}

func (f *fakeBackend) StartRecording(filename string) error {
	f.startCalls = append(f.startCalls, filename)
	f.outputPath = "/recordings/" + filename
	return f.startErr
}

func (f *fakeBackend) StopRecording(reason string) (RecordingResult, error) {
	f.stopReasons = append(f.stopReasons, reason)
	if f.stopErr != nil {
		return RecordingResult{}, f.stopErr
	}
	return RecordingResult{OutputPath: f.outputPath, Duration: 0, StartedAt: time.Now()}, nil
}

func (f *fakeBackend) GetState() RecorderState {
	return RecorderState{BackendName: "fake"}
}

func (f *fakeBackend) OnStateChanged(fn func(recording bool)) {}
func (f *fakeBackend) OnDisconnected(fn func())                {}

func TestControllerStartRecordingGeneratesTempFilename(t *testing.T) {
	backend := &fakeBackend{}
	c := NewController(backend, func() string { return "session-1" })

	path, err := c.StartRecording("Zoom")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if len(backend.startCalls) != 1 {
		t.Fatalf("expected one StartRecording call, got %d", len(backend.startCalls))
	}
	if path != backend.startCalls[0] {
		t.Fatalf("expected returned path to match backend call, got %q vs %q", path, backend.startCalls[0])
	}
}

func TestControllerStartRecordingPropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("obs unreachable")}
	c := NewController(backend, nil)

	if _, err := c.StartRecording("Zoom"); err == nil {
		t.Fatal("expected error from StartRecording")
	}
}

func TestControllerStopRecordingInvokesOnFinished(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{}
	c := NewController(backend, nil)

	if _, err := c.StartRecording("Teams"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	backend.outputPath = dir + "/temp.mp4"

	var gotID, gotPath string
	c.OnRecordingFinished(func(recordingID, outputPath string) {
		gotID, gotPath = recordingID, outputPath
	})

	if _, err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if gotID == "" || gotPath == "" {
		t.Fatalf("expected OnRecordingFinished to fire, got id=%q path=%q", gotID, gotPath)
	}
}

func TestControllerStopRecordingPropagatesBackendError(t *testing.T) {
	backend := &fakeBackend{stopErr: errors.New("stop failed")}
	c := NewController(backend, nil)
	if _, err := c.StartRecording("Zoom"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := c.StopRecording(); err == nil {
		t.Fatal("expected error from StopRecording")
	}
}

func TestControllerStateChangedAndRecordingErrorDoNotPanicWithoutLogger(t *testing.T) {
	c := NewController(&fakeBackend{}, nil)
	c.StateChanged(meeting.State{Phase: meeting.PhaseRecording, App: "Zoom"})
	c.RecordingError(errors.New("boom"))
}
