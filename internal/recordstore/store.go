// Package recordstore implements the external recording catalog the
// processing queue and AI-generation handler depend on: a directory of
// recordings, each identified by its sidecar .meta.json (written by
// internal/recorder.Controller), with completion tracked by the presence of
// a transcript file and a .ai.json sidecar.
package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiroq/memofy/internal/fileutil"
	"github.com/tiroq/memofy/internal/queue"
)

// Store scans dir for recording sidecars. It implements queue.Catalog and
// aigen.TranscriptSource.
type Store struct {
	dir string
}

// New constructs a Store rooted at dir (the recordings output directory).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// recordingIDForMeta derives the recording id from a .meta.json path: the
// same sanitized-basename convention recorder.Controller uses to build a
// recording id from its final output filename.
func recordingIDForMeta(metaPath string) string {
	base := filepath.Base(metaPath)
	base = strings.TrimSuffix(base, ".meta.json")
	return base
}

func (s *Store) metaPaths() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read recordings dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".meta.json") {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	return paths, nil
}

func (s *Store) readMeta(metaPath string) (*fileutil.RecordingMetadata, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var meta fileutil.RecordingMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// RecordingsNeedingTranscription implements queue.Catalog: recordings whose
// output file has no sibling .txt transcript yet.
func (s *Store) RecordingsNeedingTranscription(ctx context.Context) ([]queue.TranscriptionTarget, error) {
	paths, err := s.metaPaths()
	if err != nil {
		return nil, err
	}
	var targets []queue.TranscriptionTarget
	for _, p := range paths {
		meta, err := s.readMeta(p)
		if err != nil {
			continue
		}
		if meta.OutputFile == "" {
			continue
		}
		if _, err := os.Stat(transcriptPath(meta.OutputFile, "txt")); err == nil {
			continue
		}
		targets = append(targets, queue.TranscriptionTarget{
			RecordingID: recordingIDForMeta(p),
			AudioPath:   meta.OutputFile,
		})
	}
	return targets, nil
}

// RecordingsNeedingAIGeneration implements queue.Catalog: recordings with a
// transcript but no .ai.json sidecar, when either summary or action items
// are requested.
func (s *Store) RecordingsNeedingAIGeneration(ctx context.Context, needSummary, needActions bool) ([]string, error) {
	if !needSummary && !needActions {
		return nil, nil
	}
	paths, err := s.metaPaths()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range paths {
		meta, err := s.readMeta(p)
		if err != nil || meta.OutputFile == "" {
			continue
		}
		txtPath := transcriptPath(meta.OutputFile, "txt")
		if _, err := os.Stat(txtPath); err != nil {
			continue // not transcribed yet, transcription lane will pick it up first
		}
		if _, err := os.Stat(aiSidecarPath(txtPath)); err == nil {
			continue // already generated
		}
		ids = append(ids, recordingIDForMeta(p))
	}
	return ids, nil
}

// TranscriptPath implements aigen.TranscriptSource: resolves a recording id
// to its plain-text transcript path.
func (s *Store) TranscriptPath(recordingID string) (string, error) {
	paths, err := s.metaPaths()
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if recordingIDForMeta(p) != recordingID {
			continue
		}
		meta, err := s.readMeta(p)
		if err != nil || meta.OutputFile == "" {
			return "", fmt.Errorf("recording %s: unreadable metadata", recordingID)
		}
		path := transcriptPath(meta.OutputFile, "txt")
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("recording %s: transcript not found at %s", recordingID, path)
		}
		return path, nil
	}
	return "", fmt.Errorf("recording %s: not found in catalog", recordingID)
}

// AudioPath resolves a recording id to its media file path, for the
// transcription handler.
func (s *Store) AudioPath(recordingID string) (string, error) {
	paths, err := s.metaPaths()
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if recordingIDForMeta(p) == recordingID {
			meta, err := s.readMeta(p)
			if err != nil {
				return "", err
			}
			return meta.OutputFile, nil
		}
	}
	return "", fmt.Errorf("recording %s: not found in catalog", recordingID)
}

func transcriptPath(mediaPath, format string) string {
	ext := filepath.Ext(mediaPath)
	base := mediaPath[:len(mediaPath)-len(ext)]
	return base + "." + format
}

func aiSidecarPath(transcriptTxtPath string) string {
	ext := filepath.Ext(transcriptTxtPath)
	base := transcriptTxtPath[:len(transcriptTxtPath)-len(ext)]
	return base + ".ai.json"
}
