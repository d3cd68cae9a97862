package routine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRoutineDir is the conventional directory (inside .cadence) holding
// routine definitions.
const DefaultRoutineDir = "routines"

// ErrNotFound is returned when a routine cannot be located by id or name.
var ErrNotFound = errors.New("routine: not found")

// ParseYAML decodes a routine definition from YAML/JSON bytes.
func ParseYAML(data []byte) (Routine, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Routine{}, fmt.Errorf("routine: definition payload is empty")
	}
	var r Routine
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Routine{}, fmt.Errorf("routine: decode definition: %w", err)
	}
	return r.Normalized()
}

// LoadReader reads routine definition data from an io.Reader.
func LoadReader(r io.Reader) (Routine, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Routine{}, fmt.Errorf("routine: read definition: %w", err)
	}
	return ParseYAML(content)
}

// LoadFile loads a routine definition from an explicit file path.
func LoadFile(path string) (Routine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Routine{}, fmt.Errorf("routine: read %s: %w", path, err)
	}
	r, parseErr := ParseYAML(content)
	if parseErr != nil {
		return Routine{}, fmt.Errorf("routine: %s: %w", path, parseErr)
	}
	return r, nil
}

// LoadDir loads every *.yaml, *.yml and *.json definition in dir, sorted by
// display name. A missing directory yields no routines.
func LoadDir(dir string) ([]Routine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("routine: list %s: %w", dir, err)
	}
	var routines []Routine
	seen := map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		r, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("routine: id %s defined in both %s and %s", r.ID, other, path)
		}
		seen[r.ID] = path
		routines = append(routines, r)
	}
	sort.SliceStable(routines, func(i, j int) bool {
		return strings.ToLower(routines[i].DisplayName()) < strings.ToLower(routines[j].DisplayName())
	})
	return routines, nil
}

// Find resolves a routine by path, by id, or by file stem within dir.
func Find(dir, ref string) (Routine, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Routine{}, fmt.Errorf("routine: reference is required")
	}
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return LoadFile(ref)
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		candidate := filepath.Join(dir, ref+ext)
		if _, err := os.Stat(candidate); err == nil {
			return LoadFile(candidate)
		}
	}
	routines, err := LoadDir(dir)
	if err != nil {
		return Routine{}, err
	}
	for _, r := range routines {
		if strings.EqualFold(r.ID, ref) || strings.EqualFold(r.Name, ref) {
			return r, nil
		}
	}
	return Routine{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
