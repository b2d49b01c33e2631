package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// defaultStateDir is the conventional hidden directory a Store is created
// against when the caller has no override (DEVENGINE_STATE_DIR unset).
const defaultStateDir = ".devengine/state"

// Store persists ExecutionState as one JSON document per planId under
// <stateDir>/<planId>.json. All writes are atomic and durable; a
// corrupted file is treated as absent rather than crashing the caller.
type Store struct {
	dir string
}

// NewStore binds a Store to dir. dir is created lazily on first Save, not
// here, mirroring the teacher's store (which only creates directories it
// is about to write into).
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = defaultStateDir
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(planID string) string {
	return filepath.Join(s.dir, planID+".json")
}

// Save rewrites LastCheckpoint to now before serializing, so that
// findLatestForGoal ranks by most-recent save rather than original
// creation time.
func (s *Store) Save(st ExecutionState) error {
	st.LastCheckpoint = time.Now().UTC()
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid execution state: %w", err)
	}
	if err := ensureDirDurable(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	data, err := jsonMarshalStable(st)
	if err != nil {
		return fmt.Errorf("marshal execution state: %w", err)
	}
	return writeFileAtomicDurable(s.path(st.PlanID), data, 0o644)
}

// Load returns nil, nil when the planId has no file or the file fails to
// parse — a corrupted checkpoint must never crash the engine, it is
// simply treated as "no checkpoint".
func (s *Store) Load(planID string) (*ExecutionState, error) {
	var st ExecutionState
	if err := readJSONStrict(s.path(planID), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nil // CheckpointCorrupt: treated as "no checkpoint"
	}
	if err := st.Validate(); err != nil {
		return nil, nil
	}
	return &st, nil
}

// List returns the planId of every .json file in the state directory.
// It does not parse the files, so a corrupt checkpoint is listed too.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a planId's checkpoint file, if present.
func (s *Store) Delete(planID string) error {
	err := os.Remove(s.path(planID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a planId has a file on disk, independent of
// whether that file's content is well-formed.
func (s *Store) Exists(planID string) (bool, error) {
	_, err := os.Stat(s.path(planID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FindLatestForGoal returns the most recently saved (by LastCheckpoint)
// ExecutionState whose Goal matches, or nil if none exists.
func (s *Store) FindLatestForGoal(goal string) (*ExecutionState, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	var latest *ExecutionState
	for _, id := range ids {
		st, err := s.Load(id)
		if err != nil {
			return nil, err
		}
		if st == nil || st.Goal != goal {
			continue
		}
		if latest == nil || st.LastCheckpoint.After(latest.LastCheckpoint) {
			latest = st
		}
	}
	return latest, nil
}

// Cleanup keeps the keepN most-recently-touched checkpoints (by
// LastCheckpoint) and deletes the rest, returning the number deleted.
// Entries that fail to parse sort last (zero time) and are deleted first.
func (s *Store) Cleanup(keepN int) (int, error) {
	ids, err := s.List()
	if err != nil {
		return 0, err
	}
	type entry struct {
		id   string
		last time.Time
	}
	entries := make([]entry, 0, len(ids))
	for _, id := range ids {
		st, err := s.Load(id)
		if err != nil {
			return 0, err
		}
		var last time.Time
		if st != nil {
			last = st.LastCheckpoint
		}
		entries = append(entries, entry{id: id, last: last})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].last.After(entries[j].last)
	})
	if keepN < 0 {
		keepN = 0
	}
	if keepN >= len(entries) {
		return 0, nil
	}
	deleted := 0
	for _, e := range entries[keepN:] {
		if err := s.Delete(e.id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func jsonMarshalStable(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func readJSONStrict(path string, dst any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON: trailing content")
	}
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		if err := fsyncDir(parent); err != nil {
			return err
		}
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
