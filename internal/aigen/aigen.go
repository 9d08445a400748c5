// Package aigen is a concrete GenerateAI handler implementation: it runs a
// local Ollama model over a recording's transcript to produce a summary and
// action-item list, then writes them as a sidecar JSON file next to the
// transcript. The core processing queue only depends on the
// queue.AIGenerationHandler function signature; this package is what the
// embedder wires into it.
package aigen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Result is the sidecar payload written alongside the transcript.
type Result struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Model       string   `json:"model"`
}

// TranscriptSource resolves a recording id to the path of its plain-text
// transcript, so Generator doesn't need to know about the catalog.
type TranscriptSource interface {
	TranscriptPath(recordingID string) (string, error)
}

// chatModel is the subset of llms.Model that Generator depends on, so tests
// can substitute a fake instead of talking to a real Ollama server.
type chatModel interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Generator produces Result values from a recording's transcript via a local
// Ollama model.
type Generator struct {
	model   string
	llm     chatModel
	source  TranscriptSource
	systemP string
}

// NewGenerator constructs a Generator targeting the given Ollama model name
// (e.g. "llama3").
func NewGenerator(model string, source TranscriptSource) (*Generator, error) {
	llm, err := ollama.New(ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("init ollama model %s: %w", model, err)
	}
	return newGeneratorWithModel(model, llm, source), nil
}

func newGeneratorWithModel(model string, llm chatModel, source TranscriptSource) *Generator {
	return &Generator{
		model:  model,
		llm:    llm,
		source: source,
		systemP: "Respond in JSON format, include `summary` and `action_items` in response keys. " +
			"summary is a concise paragraph; action_items is an array of short imperative strings.",
	}
}

// Generate implements queue.AIGenerationHandler's signature: it reads the
// recording's transcript, asks the model for a summary and action items, and
// writes them to a sidecar next to the transcript whose extension is
// replaced by .ai.json (rec1.txt -> rec1.ai.json).
func (g *Generator) Generate(ctx context.Context, recordingID string) error {
	transcriptPath, err := g.source.TranscriptPath(recordingID)
	if err != nil {
		return fmt.Errorf("resolve transcript path for %s: %w", recordingID, err)
	}

	transcriptBytes, err := os.ReadFile(transcriptPath)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}

	result, err := g.generateFromText(ctx, string(transcriptBytes))
	if err != nil {
		return err
	}

	sidecarPath := strings.TrimSuffix(transcriptPath, filepath.Ext(transcriptPath)) + ".ai.json"
	return writeJSONAtomic(sidecarPath, result)
}

func (g *Generator) generateFromText(ctx context.Context, transcript string) (Result, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, g.systemP),
		llms.TextParts(llms.ChatMessageTypeHuman, transcript),
	}

	response, err := g.llm.GenerateContent(ctx, content, llms.WithJSONMode())
	if err != nil {
		return Result{}, fmt.Errorf("generate content: %w", err)
	}
	if len(response.Choices) < 1 {
		return Result{}, fmt.Errorf("empty response from model %s", g.model)
	}

	var parsed struct {
		Summary     string   `json:"summary"`
		ActionItems []string `json:"action_items"`
	}
	if err := json.Unmarshal([]byte(response.Choices[0].Content), &parsed); err != nil {
		return Result{}, fmt.Errorf("parse model response: %w", err)
	}

	return Result{
		Summary:     parsed.Summary,
		ActionItems: parsed.ActionItems,
		Model:       g.model,
	}, nil
}

func writeJSONAtomic(path string, result Result) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "aigen-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	success = true
	return nil
}
