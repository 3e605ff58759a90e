package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	dirName    = "checkpoints"
	filePrefix = "ckpt-"
	fileExt    = ".gob"
)

// Dir returns the checkpoints directory of a run.
func Dir(runDir string) string {
	return filepath.Join(runDir, dirName)
}

// FileName returns the checkpoint file name for an iteration. Names are
// zero-padded so lexical order is iteration order.
func FileName(iter int) string {
	return fmt.Sprintf("%s%08d%s", filePrefix, iter, fileExt)
}

// Save writes state into the run's checkpoints directory. The file is
// written to a temp name and renamed so a crash never leaves a truncated
// checkpoint behind.
func Save(runDir string, state *State) (string, error) {
	dir := Dir(runDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	state.SavedAt = time.Now()

	path := filepath.Join(dir, FileName(state.Iter))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(state); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize checkpoint: %w", err)
	}
	return path, nil
}

// Load reads a checkpoint file.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer f.Close()

	state := &State{}
	if err := gob.NewDecoder(f).Decode(state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	return state, nil
}

// List returns a run's checkpoint files in iteration order.
func List(runDir string) ([]string, error) {
	entries, err := os.ReadDir(Dir(runDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		paths = append(paths, filepath.Join(Dir(runDir), name))
	}
	sort.Strings(paths)
	return paths, nil
}

// Latest returns the newest checkpoint file of a run.
func Latest(runDir string) (string, error) {
	paths, err := List(runDir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no checkpoints in %s", runDir)
	}
	return paths[len(paths)-1], nil
}

// LatestRun returns the most recently modified run directory under root
// that holds at least one checkpoint. root is a task's log directory, e.g.
// logs/cartpole, whose children are timestamped run directories.
func LatestRun(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("failed to read run directory root: %w", err)
	}

	var (
		best     string
		bestTime time.Time
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(root, entry.Name())
		if _, err := Latest(runDir); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = runDir
			bestTime = info.ModTime()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no runs with checkpoints under %s", root)
	}
	return best, nil
}

func prune(runDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}
	paths, err := List(runDir)
	if err != nil {
		return err
	}
	if len(paths) <= keepLast {
		return nil
	}
	for _, path := range paths[:len(paths)-keepLast] {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old checkpoint: %w", err)
		}
	}
	return nil
}
