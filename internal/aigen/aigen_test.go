package aigen

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

type fakeChatModel struct {
	response string
	err      error
}

func (f *fakeChatModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

type fakeSource struct {
	path string
}

func (f *fakeSource) TranscriptPath(recordingID string) (string, error) {
	return f.path, nil
}

func TestGenerateWritesSidecarJSON(t *testing.T) {
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "rec1.txt")
	if err := os.WriteFile(transcriptPath, []byte("we discussed the Q3 roadmap"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	fake := &fakeChatModel{response: `{"summary":"Team discussed Q3 roadmap.","action_items":["File the roadmap doc","Schedule follow-up"]}`}
	g := newGeneratorWithModel("llama3", fake, &fakeSource{path: transcriptPath})

	if err := g.Generate(context.Background(), "rec1"); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	sidecarPath := filepath.Join(dir, "rec1.ai.json")
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		t.Fatalf("expected sidecar file: %v", err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal sidecar: %v", err)
	}
	if result.Summary != "Team discussed Q3 roadmap." {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if len(result.ActionItems) != 2 {
		t.Fatalf("expected 2 action items, got %d", len(result.ActionItems))
	}
	if result.Model != "llama3" {
		t.Fatalf("expected model name recorded, got %q", result.Model)
	}
}

func TestGenerateFailsOnUnreadableTranscript(t *testing.T) {
	fake := &fakeChatModel{response: `{"summary":"x","action_items":[]}`}
	g := newGeneratorWithModel("llama3", fake, &fakeSource{path: "/nonexistent/path.txt"})

	if err := g.Generate(context.Background(), "rec1"); err == nil {
		t.Fatal("expected error for unreadable transcript path")
	}
}

func TestGenerateFailsOnMalformedModelResponse(t *testing.T) {
	dir := t.TempDir()
	transcriptPath := filepath.Join(dir, "rec1.txt")
	if err := os.WriteFile(transcriptPath, []byte("hello"), 0644); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	fake := &fakeChatModel{response: "not json"}
	g := newGeneratorWithModel("llama3", fake, &fakeSource{path: transcriptPath})

	if err := g.Generate(context.Background(), "rec1"); err == nil {
		t.Fatal("expected error for malformed model response")
	}
}
