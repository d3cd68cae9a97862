package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/cadence/internal/execution"
)

// ErrSnapshotNotFound is returned when no active execution was mirrored.
var ErrSnapshotNotFound = errors.New("store: snapshot not found")

// ActiveSnapshot mirrors the running execution so an interrupted session
// can be reported on the next launch.
type ActiveSnapshot struct {
	RoutineID string          `json:"routine_id"`
	StepID    string          `json:"step_id,omitempty"`
	SavedAt   time.Time       `json:"saved_at"`
	Execution execution.State `json:"execution"`
}

// Snapshots stores the active execution snapshot as JSON.
type Snapshots struct {
	path string
}

// NewSnapshots creates a repository writing to path
// (normally .cadence/state/active.json).
func NewSnapshots(path string) *Snapshots {
	return &Snapshots{path: path}
}

// Path returns the backing file.
func (r *Snapshots) Path() string { return r.path }

// Load reads the persisted snapshot if present.
func (r *Snapshots) Load() (ActiveSnapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ActiveSnapshot{}, ErrSnapshotNotFound
		}
		return ActiveSnapshot{}, fmt.Errorf("store: read snapshot: %w", err)
	}
	var snap ActiveSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ActiveSnapshot{}, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename.
func (r *Snapshots) Save(snap ActiveSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("store: ensure snapshot dir: %w", err)
	}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("store: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("store: replace snapshot: %w", err)
	}
	return nil
}

// Clear removes the snapshot once the execution is finalized.
func (r *Snapshots) Clear() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: clear snapshot: %w", err)
	}
	return nil
}
