// Package results persists finished experiment runs: one JSON file per
// branch with exactly two top-level sequences, docker_stats and
// client_perf.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"netem-bench/internal/dataset"
	"netem-bench/internal/logging"
)

// DirFor derives the data directory name from the experiment parameters so
// runs with different shaping or timing never overwrite each other.
func DirFor(base, bandwidth, latency, loss string, spinupSeconds, totalSeconds int) string {
	name := fmt.Sprintf("data-%s-%s-%s-%ds-%ds", bandwidth, latency, loss, spinupSeconds, totalSeconds)
	return filepath.Join(base, name)
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Path(branch string) string {
	return filepath.Join(s.dir, branch+".json")
}

// Exists reports whether a result file for the branch is already present.
func (s *Store) Exists(branch string) bool {
	_, err := os.Stat(s.Path(branch))
	return err == nil
}

// Write persists one run atomically: the JSON is staged in a temp file and
// renamed into place, so readers never observe a half-written result.
// Existing files are overwritten. Returns the final file path.
func (s *Store) Write(branch string, result *dataset.ExperimentResult) (string, error) {
	if result == nil {
		return "", fmt.Errorf("result is nil")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, "."+branch+"-*.json.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()

	if err := json.NewEncoder(tmp).Encode(result); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("encoding result for %s: %w", branch, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	final := s.Path(branch)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	logging.GetLogger().WithField("path", final).Info("Result written")
	return final, nil
}

// Read loads a previously written result.
func (s *Store) Read(branch string) (*dataset.ExperimentResult, error) {
	data, err := os.ReadFile(s.Path(branch))
	if err != nil {
		return nil, err
	}
	var result dataset.ExperimentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding result for %s: %w", branch, err)
	}
	return &result, nil
}
