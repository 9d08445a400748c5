package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestQueueTranscriptionOrderedOneAtATime(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var maxConcurrent, concurrent int

	q := NewQueue(nil)
	q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
		mu.Lock()
		concurrent++
		if concurrent > maxConcurrent {
			maxConcurrent = concurrent
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		order = append(order, recordingID)
		concurrent--
		mu.Unlock()
		return nil
	})

	q.EnqueueTranscription("10", "/a/10.wav")
	q.EnqueueTranscription("11", "/a/11.wav")
	q.EnqueueTranscription("12", "/a/12.wav")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 1 {
		t.Fatalf("expected at most one in-flight handler call, saw %d concurrent", maxConcurrent)
	}
	want := []string{"10", "11", "12"}
	for i, id := range want {
		if order[i] != id {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueueStatusTracksLaneLengths(t *testing.T) {
	var statuses []Status
	var mu sync.Mutex
	q := NewQueue(func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	})

	release := make(chan struct{})
	q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
		<-release
		return nil
	})

	q.EnqueueTranscription("1", "/a/1.wav")
	waitFor(t, func() bool { return q.GetStatus().TranscriptionCurrentID == "1" })

	status := q.GetStatus()
	if status.TranscriptionCurrentID != "1" {
		t.Fatalf("expected current id 1, got %q", status.TranscriptionCurrentID)
	}

	close(release)
	waitFor(t, func() bool {
		s := q.GetStatus()
		return s.TranscriptionCurrentID == "" && s.TranscriptionLength == 0
	})
}

func TestQueueFailedHandlerDropsTaskAndContinues(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	q := NewQueue(nil)
	q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
		mu.Lock()
		seen = append(seen, recordingID)
		mu.Unlock()
		if recordingID == "bad" {
			return errors.New("transcription failed")
		}
		return nil
	})

	q.EnqueueTranscription("bad", "/a/bad.wav")
	q.EnqueueTranscription("good", "/a/good.wav")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
}

func TestQueueCancelTasksRemovesPendingOnly(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var ranIDs []string

	q := NewQueue(nil)
	q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
		if recordingID == "1" {
			close(started)
			<-release
		}
		mu.Lock()
		ranIDs = append(ranIDs, recordingID)
		mu.Unlock()
		return nil
	})

	q.EnqueueTranscription("1", "/a/1.wav")
	<-started // "1" is now in-flight

	q.EnqueueTranscription("2", "/a/2.wav")
	q.CancelTasks("2") // pending, must be removed before it ever runs

	close(release)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ranIDs) == 1 // only "1" ran; "2" never did
	})
	time.Sleep(30 * time.Millisecond) // give "2" a chance to wrongly run
	mu.Lock()
	defer mu.Unlock()
	if len(ranIDs) != 1 || ranIDs[0] != "1" {
		t.Fatalf("expected only task 1 to run, got %v", ranIDs)
	}
}

type fakeCatalog struct {
	transcriptionTargets []TranscriptionTarget
	aiGenIDs             []string
}

func (c *fakeCatalog) RecordingsNeedingTranscription(ctx context.Context) ([]TranscriptionTarget, error) {
	return c.transcriptionTargets, nil
}

func (c *fakeCatalog) RecordingsNeedingAIGeneration(ctx context.Context, needSummary, needActions bool) ([]string, error) {
	return c.aiGenIDs, nil
}

func TestQueueResumeIncompleteWork(t *testing.T) {
	q := NewQueue(nil)
	block := make(chan struct{})
	q.SetTranscriptionHandler(func(ctx context.Context, recordingID, audioPath string) error {
		<-block
		return nil
	})
	q.SetAIGenerationHandler(func(ctx context.Context, recordingID string) error {
		<-block
		return nil
	})

	catalog := &fakeCatalog{
		transcriptionTargets: []TranscriptionTarget{{RecordingID: "5", AudioPath: "/a/5.wav"}},
		aiGenIDs:             []string{"7"},
	}

	flags := ResumeFlags{AutoTranscribe: true, AutoGenerateSummary: true, AutoGenerateActionItems: true}
	if err := q.ResumeIncompleteWork(context.Background(), catalog, flags); err != nil {
		t.Fatalf("ResumeIncompleteWork: %v", err)
	}

	// Lanes drain on their own goroutines; wait until both heads are in flight.
	waitFor(t, func() bool {
		s := q.GetStatus()
		return s.TranscriptionCurrentID != "" && s.AIGenerationCurrentID != ""
	})

	status := q.GetStatus()
	if status.TranscriptionCurrentID != "5" {
		t.Fatalf("expected transcription lane to pick up recording 5, got %q", status.TranscriptionCurrentID)
	}
	if status.AIGenerationCurrentID != "7" {
		t.Fatalf("expected ai-generation lane to pick up recording 7, got %q", status.AIGenerationCurrentID)
	}

	// Re-calling must not duplicate already-queued/in-flight work.
	if err := q.ResumeIncompleteWork(context.Background(), catalog, flags); err != nil {
		t.Fatalf("ResumeIncompleteWork (second call): %v", err)
	}
	if q.GetStatus().TranscriptionLength != 0 {
		t.Fatalf("expected no duplicate enqueue, lane length = %d", q.GetStatus().TranscriptionLength)
	}

	close(block)
}
