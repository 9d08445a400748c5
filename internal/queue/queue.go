package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiroq/memofy/internal/diaglog"
)

// TaskType distinguishes the two lanes.
type TaskType string

const (
	TaskTranscription TaskType = "transcription"
	TaskAIGeneration  TaskType = "ai_generation"
)

// Task is one queued unit of work.
type Task struct {
	ID          string
	RecordingID string
	Type        TaskType
	CreatedAt   time.Time
}

// Status is a snapshot of both lanes' lengths and in-flight ids.
type Status struct {
	TranscriptionLength    int
	TranscriptionCurrentID string
	AIGenerationLength     int
	AIGenerationCurrentID  string
}

// StatusListener is notified whenever either lane's length or in-flight id
// changes.
type StatusListener func(Status)

// laneHandler processes one task; audioPath is populated only for the
// transcription lane (sourced from the sidecar map).
type laneHandler func(ctx context.Context, recordingID, audioPath string) error

// lane is a single FIFO with at most one in-flight handler call. Handlers
// run outside the lane's mutex so a long-running call does not block
// enqueue.
type lane struct {
	mu        sync.Mutex
	taskType  TaskType
	tasks     []Task
	inFlight  bool
	currentID string
	sidecar   map[string]string // recording_id -> audio_path (transcription only)
	handler   laneHandler
	logger    *diaglog.Logger
	notify    func()
	nextID    func() string
}

func newLane(taskType TaskType, notify func(), nextID func() string) *lane {
	return &lane{
		taskType: taskType,
		sidecar:  make(map[string]string),
		notify:   notify,
		nextID:   nextID,
	}
}

func (l *lane) setHandler(h laneHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// enqueue appends task (and, for the transcription lane, its sidecar audio
// path) and schedules processing if the lane is idle.
func (l *lane) enqueue(recordingID, audioPath string) {
	l.mu.Lock()
	task := Task{ID: l.nextID(), RecordingID: recordingID, Type: l.taskType, CreatedAt: time.Now()}
	l.tasks = append(l.tasks, task)
	if audioPath != "" {
		l.sidecar[recordingID] = audioPath
	}
	shouldDrain := !l.inFlight
	if shouldDrain {
		l.inFlight = true
	}
	l.mu.Unlock()

	l.notify()
	if shouldDrain {
		go l.drain()
	}
}

// drain processes the lane head-of-line until empty. A handler error is
// logged and the task dropped; the next task proceeds (best-effort policy).
// With no handler set, draining stops and the tasks stay queued.
func (l *lane) drain() {
	ctx := context.Background()
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 || l.handler == nil {
			l.inFlight = false
			l.currentID = ""
			l.mu.Unlock()
			l.notify()
			return
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.currentID = task.RecordingID
		audioPath := l.sidecar[task.RecordingID]
		handler := l.handler
		l.mu.Unlock()
		l.notify()

		if handler != nil {
			if err := handler(ctx, task.RecordingID, audioPath); err != nil && l.logger != nil {
				l.logger.Log(diaglog.LogEntry{
					Component: diaglog.ComponentMemofyCore,
					Event:     "queue_task_failed",
					Reason:    err.Error(),
					Payload:   map[string]interface{}{"lane": string(l.taskType), "recording_id": task.RecordingID},
				})
			}
		}

		l.mu.Lock()
		delete(l.sidecar, task.RecordingID)
		l.currentID = ""
		l.mu.Unlock()
		l.notify()
	}
}

// cancel removes every pending task for recordingID and its sidecar entry.
// It does not abort a currently-running handler call: cancellation is
// non-preemptive by design.
func (l *lane) cancel(recordingID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	filtered := l.tasks[:0]
	for _, t := range l.tasks {
		if t.RecordingID != recordingID {
			filtered = append(filtered, t)
		}
	}
	l.tasks = filtered
	delete(l.sidecar, recordingID)
}

func (l *lane) length() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

func (l *lane) current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentID
}

func (l *lane) queuedIDs() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]bool, len(l.tasks)+1)
	for _, t := range l.tasks {
		out[t.RecordingID] = true
	}
	if l.currentID != "" {
		out[l.currentID] = true
	}
	return out
}

// Queue owns the transcription and ai-generation lanes.
type Queue struct {
	transcription *lane
	aiGeneration  *lane

	mu       sync.Mutex
	listener StatusListener
	logger   *diaglog.Logger
	seq      int
}

// NewQueue constructs a queue with both lanes idle. listener is invoked
// (synchronously, from whichever goroutine triggered the change) every time
// a lane's length or in-flight id changes; pass nil to ignore notifications.
func NewQueue(listener StatusListener) *Queue {
	q := &Queue{listener: listener}
	q.transcription = newLane(TaskTranscription, q.fireStatus, q.nextTaskID)
	q.aiGeneration = newLane(TaskAIGeneration, q.fireStatus, q.nextTaskID)
	return q
}

// SetLogger injects a diagnostic logger used for best-effort failure logs.
func (q *Queue) SetLogger(l *diaglog.Logger) {
	q.logger = l
	q.transcription.logger = l
	q.aiGeneration.logger = l
}

// SetTranscriptionHandler wires the transcription handler. Until set,
// enqueued transcription tasks accumulate but are never drained.
func (q *Queue) SetTranscriptionHandler(h TranscriptionHandler) {
	q.transcription.setHandler(func(ctx context.Context, recordingID, audioPath string) error {
		return h(ctx, recordingID, audioPath)
	})
}

// SetAIGenerationHandler wires the AI-generation handler.
func (q *Queue) SetAIGenerationHandler(h AIGenerationHandler) {
	q.aiGeneration.setHandler(func(ctx context.Context, recordingID, _ string) error {
		return h(ctx, recordingID)
	})
}

// EnqueueTranscription appends a transcription task with its sidecar audio
// path.
func (q *Queue) EnqueueTranscription(recordingID, audioPath string) {
	q.transcription.enqueue(recordingID, audioPath)
}

// EnqueueAIGeneration appends an ai-generation task (summary + action items
// bundled as one job per recording).
func (q *Queue) EnqueueAIGeneration(recordingID string) {
	q.aiGeneration.enqueue(recordingID, "")
}

// CancelTasks removes recordingID's pending entries from both lanes. A
// currently in-flight handler call for recordingID, if any, still runs to
// completion.
func (q *Queue) CancelTasks(recordingID string) {
	q.transcription.cancel(recordingID)
	q.aiGeneration.cancel(recordingID)
}

// GetStatus returns both lanes' lengths and in-flight ids.
func (q *Queue) GetStatus() Status {
	return Status{
		TranscriptionLength:    q.transcription.length(),
		TranscriptionCurrentID: q.transcription.current(),
		AIGenerationLength:     q.aiGeneration.length(),
		AIGenerationCurrentID:  q.aiGeneration.current(),
	}
}

// ResumeIncompleteWork queries catalog for recordings needing transcription
// and/or AI generation and enqueues the ones not already queued. Handler
// presence is a precondition for each lane; if a lane's handler is unset,
// that lane is skipped with a log line rather than silently dropping work.
func (q *Queue) ResumeIncompleteWork(ctx context.Context, catalog Catalog, flags ResumeFlags) error {
	if flags.AutoTranscribe {
		if q.transcription.handlerSet() {
			targets, err := catalog.RecordingsNeedingTranscription(ctx)
			if err != nil {
				return err
			}
			already := q.transcription.queuedIDs()
			for _, t := range targets {
				if already[t.RecordingID] {
					continue
				}
				q.EnqueueTranscription(t.RecordingID, t.AudioPath)
			}
		} else {
			q.logSkippedResume(TaskTranscription)
		}
	}

	if flags.AutoGenerateSummary || flags.AutoGenerateActionItems {
		if q.aiGeneration.handlerSet() {
			ids, err := catalog.RecordingsNeedingAIGeneration(ctx, flags.AutoGenerateSummary, flags.AutoGenerateActionItems)
			if err != nil {
				return err
			}
			already := q.aiGeneration.queuedIDs()
			for _, id := range ids {
				if already[id] {
					continue
				}
				q.EnqueueAIGeneration(id)
			}
		} else {
			q.logSkippedResume(TaskAIGeneration)
		}
	}
	return nil
}

func (l *lane) handlerSet() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler != nil
}

func (q *Queue) logSkippedResume(taskType TaskType) {
	if q.logger != nil {
		q.logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentMemofyCore,
			Event:     "queue_resume_skipped_no_handler",
			Payload:   map[string]interface{}{"lane": string(taskType)},
		})
	}
}

func (q *Queue) fireStatus() {
	if q.listener == nil {
		return
	}
	q.listener(q.GetStatus())
}

func (q *Queue) nextTaskID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return fmt.Sprintf("t%d", q.seq)
}
