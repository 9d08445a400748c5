package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tiroq/memofy/internal/detect"
	"github.com/tiroq/memofy/internal/ipc"
	"github.com/tiroq/memofy/internal/meeting"
)

// fakeController is a minimal RecordingController for exercising the
// detector's manual-override paths without touching a real backend.
type fakeController struct {
	recording    bool
	startErr     error
	stopErr      error
	startedWith  string
}

func (f *fakeController) StartRecording(appName string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.recording = true
	f.startedWith = appName
	return "/recordings/manual.mp4", nil
}

func (f *fakeController) StopRecording() (meeting.RecordingMetadata, error) {
	if f.stopErr != nil {
		return meeting.RecordingMetadata{}, f.stopErr
	}
	f.recording = false
	return meeting.RecordingMetadata{Duration: 1.5}, nil
}

func (f *fakeController) StateChanged(meeting.State) {}
func (f *fakeController) RecordingError(error)        {}

func newManualTestDetector(controller *fakeController) *meeting.Detector {
	catalog := detect.NewCatalog(nil)
	return meeting.NewDetector(meeting.DefaultConfig(), catalog, controller)
}

// TestManualStartNoMeeting verifies ForceStartRecording works with no
// detected meeting app and puts the detector in the recording phase.
func TestManualStartNoMeeting(t *testing.T) {
	controller := &fakeController{}
	det := newManualTestDetector(controller)

	if det.State().Phase == meeting.PhaseRecording {
		t.Fatal("expected not recording initially")
	}

	if err := det.ForceStartRecording("Manual"); err != nil {
		t.Fatalf("ForceStartRecording failed: %v", err)
	}

	if det.State().Phase != meeting.PhaseRecording {
		t.Errorf("expected recording phase after ForceStartRecording, got %s", det.State().Phase)
	}
	if !controller.recording {
		t.Error("expected controller to have started recording")
	}
}

// TestManualStopDuringRecording verifies ForceStopRecording ends an
// active manually-started recording.
func TestManualStopDuringRecording(t *testing.T) {
	controller := &fakeController{}
	det := newManualTestDetector(controller)

	if err := det.ForceStartRecording("Manual"); err != nil {
		t.Fatalf("ForceStartRecording failed: %v", err)
	}
	if det.State().Phase != meeting.PhaseRecording {
		t.Fatal("expected recording after ForceStartRecording")
	}

	if err := det.ForceStopRecording(); err != nil {
		t.Fatalf("ForceStopRecording failed: %v", err)
	}
	if det.State().Phase == meeting.PhaseRecording {
		t.Error("expected not recording after ForceStopRecording")
	}
	if controller.recording {
		t.Error("expected controller to have stopped recording")
	}
}

// TestForceStartPropagatesControllerError verifies a backend failure
// surfaces to the caller instead of leaving the detector in recording
// phase.
func TestForceStartPropagatesControllerError(t *testing.T) {
	controller := &fakeController{startErr: os.ErrInvalid}
	det := newManualTestDetector(controller)

	if err := det.ForceStartRecording("Manual"); err == nil {
		t.Fatal("expected error from ForceStartRecording")
	}
	if det.State().Phase == meeting.PhaseRecording {
		t.Error("expected detector to stay out of recording phase on backend failure")
	}
}

// TestResetRecordingStateAfterExternalStop verifies ResetRecordingState
// returns the detector to idle without invoking the controller, modeling
// an operator resetting state after OBS was stopped externally.
func TestResetRecordingStateAfterExternalStop(t *testing.T) {
	controller := &fakeController{}
	det := newManualTestDetector(controller)

	if err := det.ForceStartRecording("Manual"); err != nil {
		t.Fatalf("ForceStartRecording failed: %v", err)
	}

	det.ResetRecordingState()

	if det.State().Phase == meeting.PhaseRecording {
		t.Error("expected idle/monitoring phase after ResetRecordingState")
	}
}

// TestCommandInterface exercises the command file read/write interface
// that the manual control commands ride on.
func TestCommandInterface(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	t.Run("WriteAndReadCommand", func(t *testing.T) {
		if err := ipc.WriteCommand(ipc.CmdForceStart); err != nil {
			t.Fatalf("WriteCommand failed: %v", err)
		}
		cmd, err := ipc.ReadCommand()
		if err != nil {
			t.Fatalf("ReadCommand failed: %v", err)
		}
		if cmd != ipc.CmdForceStart {
			t.Errorf("expected %s, got %s", ipc.CmdForceStart, cmd)
		}
	})

	t.Run("CommandModification", func(t *testing.T) {
		cmdPath := filepath.Join(tmpDir, ".cache", "memofy", "cmd.txt")

		if err := ipc.WriteCommand(ipc.CmdStart); err != nil {
			t.Fatalf("WriteCommand failed: %v", err)
		}
		info1, err := os.Stat(cmdPath)
		if err != nil {
			t.Fatalf("stat command file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)

		if err := ipc.WriteCommand(ipc.CmdStop); err != nil {
			t.Fatalf("WriteCommand failed: %v", err)
		}
		info2, err := os.Stat(cmdPath)
		if err != nil {
			t.Fatalf("stat command file: %v", err)
		}

		if !info2.ModTime().After(info1.ModTime()) && info2.Size() == info1.Size() {
			t.Error("expected command file contents or modtime to change on rewrite")
		}
	})
}

// TestModeCommandsAreValid verifies all three operating-mode manual
// overrides round-trip through the command file.
func TestModeCommandsAreValid(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	for _, cmd := range []ipc.Command{ipc.CmdAuto, ipc.CmdPause, ipc.CmdManual} {
		if err := ipc.WriteCommand(cmd); err != nil {
			t.Fatalf("WriteCommand(%s) failed: %v", cmd, err)
		}
		got, err := ipc.ReadCommand()
		if err != nil {
			t.Fatalf("ReadCommand after %s failed: %v", cmd, err)
		}
		if got != cmd {
			t.Errorf("expected %s, got %s", cmd, got)
		}
	}
}
