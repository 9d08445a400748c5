package recorder

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
	"github.com/tiroq/memofy/internal/fileutil"
	"github.com/tiroq/memofy/internal/meeting"
)

// AppVersion is stamped into sidecar metadata; the embedder sets it once at
// startup.
var AppVersion = "dev"

// Controller bridges a Recorder backend to meeting.RecordingController: it
// generates the temp-then-rename filename pair, writes the sidecar metadata
// JSON, and forwards the finished recording id to OnRecordingFinished so the
// embedder can enqueue transcription/AI generation.
type Controller struct {
	backend   Recorder
	logger    *diaglog.Logger
	sessionID func() string

	onFinished func(recordingID, outputPath string)

	mu        sync.Mutex
	startedAt time.Time
	appName   string
}

// NewController wraps backend. sessionID supplies the session identifier
// stamped into sidecar metadata (the embedder's process-lifetime session id).
func NewController(backend Recorder, sessionID func() string) *Controller {
	return &Controller{backend: backend, sessionID: sessionID}
}

// SetLogger injects a diagnostic logger, propagated to the backend.
func (c *Controller) SetLogger(l *diaglog.Logger) {
	c.logger = l
	c.backend.SetLogger(l)
}

// OnRecordingFinished registers a callback fired after StopRecording
// successfully renames the output and writes its sidecar metadata. The
// embedder uses this to enqueue transcription/AI-generation work.
func (c *Controller) OnRecordingFinished(fn func(recordingID, outputPath string)) {
	c.onFinished = fn
}

// StartRecording implements meeting.RecordingController.
func (c *Controller) StartRecording(appName string) (string, error) {
	now := time.Now()
	tempFilename := fmt.Sprintf("%s_%s_%s_temp.mp4",
		now.Format("2006-01-02"), now.Format("1504"), fileutil.SanitizeForFilename(appName))

	if err := c.backend.StartRecording(tempFilename); err != nil {
		return "", fmt.Errorf("start recording: %w", err)
	}

	c.mu.Lock()
	c.startedAt = now
	c.appName = appName
	c.mu.Unlock()

	c.log("recording_started", map[string]interface{}{"app": appName, "file": tempFilename})
	return tempFilename, nil
}

// StopRecording implements meeting.RecordingController. It stops the
// backend, renames the output to its final name, and writes sidecar
// metadata. The returned duration is measured from this controller's own
// start time; FileSize is always 0.
func (c *Controller) StopRecording() (meeting.RecordingMetadata, error) {
	c.mu.Lock()
	startedAt, appName := c.startedAt, c.appName
	c.mu.Unlock()

	result, err := c.backend.StopRecording("meeting_ended")
	if err != nil {
		return meeting.RecordingMetadata{}, fmt.Errorf("stop recording: %w", err)
	}

	newBasename := fmt.Sprintf("%s_%s_%s",
		startedAt.Format("2006-01-02"), startedAt.Format("1504"), fileutil.SanitizeForFilename(appName))

	finalPath, err := fileutil.RenameRecording(result.OutputPath, newBasename)
	if err != nil {
		return meeting.RecordingMetadata{}, fmt.Errorf("rename recording: %w", err)
	}

	stoppedAt := time.Now()
	duration := stoppedAt.Sub(startedAt)

	sessionID := ""
	if c.sessionID != nil {
		sessionID = c.sessionID()
	}

	meta := &fileutil.RecordingMetadata{
		Version:         AppVersion,
		SessionID:       sessionID,
		StartedAt:       startedAt,
		StoppedAt:       stoppedAt,
		Duration:        duration.String(),
		DurationMs:      duration.Milliseconds(),
		App:             appName,
		RecorderBackend: c.backend.GetState().BackendName,
		OutputFile:      finalPath,
	}
	if err := fileutil.WriteMetadata(finalPath, meta); err != nil {
		c.log("metadata_write_failed", map[string]interface{}{"file": finalPath, "error": err.Error()})
	}

	recordingID := strings.TrimSuffix(filepath.Base(finalPath), filepath.Ext(finalPath))
	if c.onFinished != nil {
		c.onFinished(recordingID, finalPath)
	}

	c.log("recording_stopped", map[string]interface{}{"file": finalPath, "duration_ms": duration.Milliseconds()})

	return meeting.RecordingMetadata{
		Duration: duration.Seconds(),
		FileSize: 0,
	}, nil
}

// StateChanged implements meeting.RecordingController.
func (c *Controller) StateChanged(state meeting.State) {
	c.log("detector_state_changed", map[string]interface{}{"phase": state.Phase.String(), "app": state.App})
}

// RecordingError implements meeting.RecordingController.
func (c *Controller) RecordingError(err error) {
	c.log("recording_error", map[string]interface{}{"error": err.Error()})
}

func (c *Controller) log(event string, payload map[string]interface{}) {
	if c.logger == nil {
		return
	}
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentMemofyCore,
		Event:     event,
		Payload:   payload,
	})
}
