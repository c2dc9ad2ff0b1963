package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-catalog-sweep/models"
)

const runLogTimeLayout = "2006-01-02T15-04-05.000Z"

// RunLogName is the run log file name for a run started at start.
func RunLogName(start time.Time) string {
	return "run_log_" + start.UTC().Format(runLogTimeLayout) + ".json"
}

// WriteRunLog serializes state into dir. The file is written under a temporary
// name and renamed into place, then made read-only.
func WriteRunLog(dir string, state *models.RunState) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create run log directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run log: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, RunLogName(state.StartTime))
	tmp, err := os.CreateTemp(dir, ".run_log_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create run log: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("write run log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("sync run log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("close run log: %w", err)
	}
	if err := os.Chmod(tmpName, 0o444); err != nil {
		cleanup()
		return "", fmt.Errorf("chmod run log: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("rename run log: %w", err)
	}
	return path, nil
}

// ReadRunLog decodes a run log written by WriteRunLog.
func ReadRunLog(path string) (*models.RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run log: %w", err)
	}
	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run log %s: %w", filepath.Base(path), err)
	}
	return &state, nil
}
