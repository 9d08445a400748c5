// Package meeting implements the core meeting-detection state machine: it
// consumes events from internal/detect's signal sources and coordinator and
// drives an externally-supplied recording controller through the detected
// lifecycle of a meeting.
package meeting

// RecordingController is the capability set the detector needs from its
// embedder to actually start/stop capture and surface state to a UI. It is
// injected at construction so the detector never reaches for a global.
type RecordingController interface {
	// StartRecording begins capture for appName and returns the path capture
	// is being written to, or an error (permission-denied, I/O).
	StartRecording(appName string) (string, error)
	// StopRecording finalises the active capture and returns its metadata.
	StopRecording() (RecordingMetadata, error)
	// StateChanged is a fire-and-forget notification of a detector state
	// transition.
	StateChanged(state State)
	// RecordingError is a fire-and-forget notification of a non-fatal error.
	RecordingError(err error)
}

// RecordingMetadata is returned by StopRecording.
type RecordingMetadata struct {
	Duration float64
	FileSize int64
}
