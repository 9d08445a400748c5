package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tiroq/memofy/internal/meeting"
	"github.com/tiroq/memofy/internal/queue"
)

// OperatingMode is the user-selected control mode. It is stored and reported
// in the status snapshot only: the detector and recorder do not read it, so
// detection and automatic recording behave the same in every mode.
type OperatingMode string

const (
	ModeAuto   OperatingMode = "auto"   // set by the auto command (the default)
	ModeManual OperatingMode = "manual" // set by the manual command
	ModePaused OperatingMode = "paused" // set by the pause command
)

// QueueStatus mirrors queue.Status for JSON serialization.
type QueueStatus struct {
	TranscriptionLength    int    `json:"transcription_length"`
	TranscriptionCurrentID string `json:"transcription_current_id,omitempty"`
	AIGenerationLength     int    `json:"ai_generation_length"`
	AIGenerationCurrentID  string `json:"ai_generation_current_id,omitempty"`
}

// StatusSnapshot represents the complete system state at a point in time.
type StatusSnapshot struct {
	Mode OperatingMode `json:"mode"` // Current operating mode

	Phase         string   `json:"phase"`                    // meeting.Phase.String()
	MonitoringApp string   `json:"monitoring_apps,omitempty"` // comma-joined running app names, Monitoring phase
	ActiveApp     string   `json:"active_app,omitempty"`      // app/title driving MeetingDetected/Recording/EndingMeeting
	ActiveSources []string `json:"active_sources,omitempty"`  // detect.Source.String() for every source currently firing
	PrimarySource string   `json:"primary_source,omitempty"`  // the source that triggered the current recording, if any

	Queue QueueStatus `json:"queue"`

	LastAction   string    `json:"last_action"`  // Last action taken
	LastError    string    `json:"last_error"`   // Last error message
	Timestamp    time.Time `json:"timestamp"`    // Snapshot time
	OBSConnected bool      `json:"obs_connected"` // OBS connection status
}

// BuildStatusSnapshot assembles a StatusSnapshot from the detector and queue,
// filling in the ambient fields the caller tracks (mode, last action/error,
// OBS connectivity).
func BuildStatusSnapshot(det *meeting.Detector, q *queue.Queue, mode OperatingMode, lastAction, lastError string, obsConnected bool) StatusSnapshot {
	state := det.State()

	sources := det.ActiveSources()
	sourceNames := make([]string, 0, len(sources))
	for _, s := range sources {
		sourceNames = append(sourceNames, s.String())
	}

	var primary string
	if src, ok := det.PrimarySource(); ok {
		primary = src.String()
	}

	qs := q.GetStatus()

	return StatusSnapshot{
		Mode:          mode,
		Phase:         state.Phase.String(),
		MonitoringApp: state.Apps,
		ActiveApp:     state.App,
		ActiveSources: sourceNames,
		PrimarySource: primary,
		Queue: QueueStatus{
			TranscriptionLength:    qs.TranscriptionLength,
			TranscriptionCurrentID: qs.TranscriptionCurrentID,
			AIGenerationLength:     qs.AIGenerationLength,
			AIGenerationCurrentID:  qs.AIGenerationCurrentID,
		},
		LastAction:   lastAction,
		LastError:    lastError,
		Timestamp:    time.Now(),
		OBSConnected: obsConnected,
	}
}

// WriteStatus persists StatusSnapshot to ~/.cache/memofy/status.json using atomic write
func WriteStatus(status *StatusSnapshot) error {
	cacheDir := filepath.Join(os.Getenv("HOME"), ".cache", "memofy")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return err
	}

	statusPath := filepath.Join(cacheDir, "status.json")
	return atomicWriteJSON(statusPath, status)
}

// ReadStatus loads StatusSnapshot from ~/.cache/memofy/status.json
func ReadStatus() (*StatusSnapshot, error) {
	statusPath := filepath.Join(os.Getenv("HOME"), ".cache", "memofy", "status.json")

	data, err := os.ReadFile(statusPath)
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	// Create temp file in same directory
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "status-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Ensure cleanup on error
	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	// Write JSON with indentation for readability
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	// Sync to disk before rename
	if err := tmpFile.Sync(); err != nil {
		return err
	}

	// Close file before rename
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil // Prevent defer cleanup

	// Atomic rename
	return os.Rename(tmpPath, path)
}
