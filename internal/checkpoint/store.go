package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the checkpoint document name inside a session directory.
const FileName = ".checkpoint.json"

// lastStageKey is the reserved document key naming the most recently
// completed stage. It is never a valid stage name.
const lastStageKey = "last_stage"

// Store persists per-session stage outputs as a single JSON document of
// shape {"<stage>": <output>, ..., "last_stage": "<stage>"}. Each session
// owns exactly one checkpoint file; there is no cross-session sharing.
type Store struct {
	path string
}

// NewStore creates a Store for the given session directory.
func NewStore(sessionDir string) *Store {
	return &Store{path: filepath.Join(sessionDir, FileName)}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Save merges the output for a stage into the checkpoint document and marks
// it as the last completed stage. The write is atomic: an interrupted
// process loses at most the in-flight stage, never the document.
func (s *Store) Save(stage string, output interface{}) error {
	if stage == "" || stage == lastStageKey {
		return fmt.Errorf("invalid stage name %q", stage)
	}

	doc, err := s.load()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output for stage %q: %w", stage, err)
	}
	doc[stage] = raw

	last, _ := json.Marshal(stage)
	doc[lastStageKey] = last

	return WriteJSON(s.path, doc)
}

// Load returns the mapping from stage name to raw stage output. A missing
// checkpoint file yields an empty mapping, not an error.
func (s *Store) Load() (map[string]json.RawMessage, error) {
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	delete(doc, lastStageKey)
	return doc, nil
}

// LastStage returns the name of the most recently saved stage, or "" if no
// checkpoint exists yet.
func (s *Store) LastStage() (string, error) {
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	raw, ok := doc[lastStageKey]
	if !ok {
		return "", nil
	}
	var stage string
	if err := json.Unmarshal(raw, &stage); err != nil {
		return "", fmt.Errorf("parse %s: %w", lastStageKey, err)
	}
	return stage, nil
}

// Has reports whether a stage output is checkpointed.
func (s *Store) Has(stage string) (bool, error) {
	doc, err := s.Load()
	if err != nil {
		return false, err
	}
	_, ok := doc[stage]
	return ok, nil
}

// Get decodes a checkpointed stage output into v. It returns false when the
// stage has no checkpoint entry.
func (s *Store) Get(stage string, v interface{}) (bool, error) {
	doc, err := s.Load()
	if err != nil {
		return false, err
	}
	raw, ok := doc[stage]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode checkpoint for stage %q: %w", stage, err)
	}
	return true, nil
}

// load reads the raw document, returning an empty map when the file does
// not exist.
func (s *Store) load() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	if err := ReadJSON(s.path, &doc); err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	return doc, nil
}
