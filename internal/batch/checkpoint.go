// Package batch runs bulk enrichment through the asynchronous Message
// Batches API: submit once, poll to completion, stream per-subject
// results, and checkpoint progress so a crash resumes without
// reprocessing or double-charging.
package batch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// CheckpointVersion is written into every checkpoint. Loading a
// checkpoint with a different version fails rather than guessing.
const CheckpointVersion = 1

// Counters aggregates run progress persisted with the checkpoint.
type Counters struct {
	Submitted    int            `json:"submitted"`
	Succeeded    int            `json:"succeeded"`
	Errored      int            `json:"errored"`
	Expired      int            `json:"expired"`
	FieldUpdates map[string]int `json:"field_updates,omitempty"`
}

// Checkpoint is the durable record of an in-progress batch run. The
// invariants: a subject in Processed is never enriched again, and a
// recorded BatchID is re-attached to before any new submission.
type Checkpoint struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Processed map[int64]bool `json:"processed"`
	Counters  Counters       `json:"counters"`
}

// NewCheckpoint starts a fresh checkpoint for a run.
func NewCheckpoint(runID string) *Checkpoint {
	now := time.Now().UTC()
	return &Checkpoint{
		Version:   CheckpointVersion,
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
		Processed: make(map[int64]bool),
	}
}

// IsProcessed reports whether a subject has already been fully handled.
func (c *Checkpoint) IsProcessed(personID int64) bool {
	return c.Processed[personID]
}

// MarkProcessed records a subject as done so a resume skips it.
func (c *Checkpoint) MarkProcessed(personID int64) {
	if c.Processed == nil {
		c.Processed = make(map[int64]bool)
	}
	c.Processed[personID] = true
	c.UpdatedAt = time.Now().UTC()
}

// CountField increments a per-field update counter.
func (c *Checkpoint) CountField(key string) {
	if c.Counters.FieldUpdates == nil {
		c.Counters.FieldUpdates = make(map[string]int)
	}
	c.Counters.FieldUpdates[key]++
}

// CheckpointStore persists checkpoints durably. Load returns (nil, nil)
// when no checkpoint exists.
type CheckpointStore interface {
	Load() (*Checkpoint, error)
	Save(cp *Checkpoint) error
	Remove() error
}

// FileCheckpointStore keeps the checkpoint as JSON on disk. Saves are
// atomic: write to a temp file in the same directory, then rename.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore stores the checkpoint at path.
func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

// Load reads the checkpoint, or returns nil when none exists.
func (s *FileCheckpointStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "batch: read checkpoint %s", s.path)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, eris.Wrapf(err, "batch: parse checkpoint %s", s.path)
	}
	if cp.Version != CheckpointVersion {
		return nil, eris.Errorf("batch: checkpoint %s has version %d, want %d", s.path, cp.Version, CheckpointVersion)
	}
	if cp.Processed == nil {
		cp.Processed = make(map[int64]bool)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically.
func (s *FileCheckpointStore) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return eris.Wrap(err, "batch: marshal checkpoint")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "batch: create checkpoint dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return eris.Wrap(err, "batch: create temp checkpoint")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "batch: write temp checkpoint")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "batch: close temp checkpoint")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "batch: replace checkpoint %s", s.path)
	}
	return nil
}

// Remove deletes the checkpoint. Removing an absent checkpoint is not
// an error.
func (s *FileCheckpointStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "batch: remove checkpoint %s", s.path)
	}
	return nil
}
