package recordstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tiroq/memofy/internal/fileutil"
)

func writeMeta(t *testing.T, dir, id, outputFile string) {
	t.Helper()
	meta := &fileutil.RecordingMetadata{OutputFile: outputFile}
	if err := fileutil.WriteMetadata(filepath.Join(dir, id+".mp4"), meta); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
}

func TestRecordingsNeedingTranscriptionSkipsAlreadyTranscribed(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))
	writeMeta(t, dir, "rec-2", filepath.Join(dir, "rec-2.mp4"))
	if err := os.WriteFile(filepath.Join(dir, "rec-2.txt"), []byte("transcript"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	store := New(dir)
	targets, err := store.RecordingsNeedingTranscription(context.Background())
	if err != nil {
		t.Fatalf("RecordingsNeedingTranscription: %v", err)
	}
	if len(targets) != 1 || targets[0].RecordingID != "rec-1" {
		t.Fatalf("expected only rec-1 pending, got %+v", targets)
	}
}

func TestRecordingsNeedingAIGenerationRequiresTranscriptFirst(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))
	if err := os.WriteFile(filepath.Join(dir, "rec-1.txt"), []byte("transcript"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	store := New(dir)
	ids, err := store.RecordingsNeedingAIGeneration(context.Background(), true, true)
	if err != nil {
		t.Fatalf("RecordingsNeedingAIGeneration: %v", err)
	}
	if len(ids) != 1 || ids[0] != "rec-1" {
		t.Fatalf("expected rec-1 pending ai generation, got %+v", ids)
	}
}

func TestRecordingsNeedingAIGenerationSkipsUntranscribed(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))

	store := New(dir)
	ids, err := store.RecordingsNeedingAIGeneration(context.Background(), true, true)
	if err != nil {
		t.Fatalf("RecordingsNeedingAIGeneration: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no pending ai generation without a transcript, got %+v", ids)
	}
}

func TestRecordingsNeedingAIGenerationSkipsAlreadyGenerated(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))
	if err := os.WriteFile(filepath.Join(dir, "rec-1.txt"), []byte("transcript"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rec-1.ai.json"), []byte(`{}`), 0644); err != nil {
		t.Fatalf("seed ai sidecar: %v", err)
	}

	store := New(dir)
	ids, err := store.RecordingsNeedingAIGeneration(context.Background(), true, true)
	if err != nil {
		t.Fatalf("RecordingsNeedingAIGeneration: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected rec-1 to be skipped once generated, got %+v", ids)
	}
}

func TestTranscriptPathReturnsErrorWhenMissing(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))

	store := New(dir)
	if _, err := store.TranscriptPath("rec-1"); err == nil {
		t.Fatal("expected error when transcript file doesn't exist yet")
	}
}

func TestTranscriptPathResolvesExistingFile(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))
	if err := os.WriteFile(filepath.Join(dir, "rec-1.txt"), []byte("transcript"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	store := New(dir)
	path, err := store.TranscriptPath("rec-1")
	if err != nil {
		t.Fatalf("TranscriptPath: %v", err)
	}
	if path != filepath.Join(dir, "rec-1.txt") {
		t.Fatalf("unexpected transcript path: %q", path)
	}
}

func TestAudioPathResolvesFromMetadata(t *testing.T) {
	dir := t.TempDir()
	writeMeta(t, dir, "rec-1", filepath.Join(dir, "rec-1.mp4"))

	store := New(dir)
	path, err := store.AudioPath("rec-1")
	if err != nil {
		t.Fatalf("AudioPath: %v", err)
	}
	if path != filepath.Join(dir, "rec-1.mp4") {
		t.Fatalf("unexpected audio path: %q", path)
	}
}
