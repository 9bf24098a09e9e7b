package models

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	stateFile   = "state.yaml"
	historyFile = "history.yaml"
	imagesDir   = "images"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidSessionID reports whether id can be used as a session directory name.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id) && id != "." && id != ".."
}

// Layout resolves the on-disk locations of a session under a save root.
type Layout struct {
	Root string
}

func (l Layout) SessionDir(id string) string {
	return filepath.Join(l.Root, id)
}

func (l Layout) StatePath(id string) string {
	return filepath.Join(l.Root, id, stateFile)
}

func (l Layout) HistoryPath(id string) string {
	return filepath.Join(l.Root, id, historyFile)
}

func (l Layout) ImagesDir(id string) string {
	return filepath.Join(l.Root, id, imagesDir)
}

// FramePaths returns the full, preview and last-panel paths for a turn's frame.
func (l Layout) FramePaths(id string, turn int) (FullImagePath, PreviewImagePath, FullImagePath) {
	dir := l.ImagesDir(id)
	base := fmt.Sprintf("turn_%04d", turn)
	return FullImagePath(filepath.Join(dir, base+".png")),
		PreviewImagePath(filepath.Join(dir, base+"_preview.jpg")),
		FullImagePath(filepath.Join(dir, base+"_panel.png"))
}

// WriteYAML marshals v and replaces path atomically, so readers observe either
// the old or the new document and never a partial one.
func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadYAML loads path into v. The returned bool is false when the file does not exist.
func ReadYAML(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// ListSessions returns the session directories under the layout root that hold a state file.
func (l Layout) ListSessions() ([]string, error) {
	if _, err := os.Stat(l.Root); os.IsNotExist(err) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, err
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			// state.yaml marks a valid session
			if _, err := os.Stat(l.StatePath(entry.Name())); err == nil {
				sessions = append(sessions, entry.Name())
			}
		}
	}
	return sessions, nil
}
