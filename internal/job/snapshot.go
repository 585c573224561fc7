package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"reelchain/internal/fileutil"
	"reelchain/internal/services"
)

const (
	lockFileName   = ".job_state.lock"
	lockRetryDelay = 25 * time.Millisecond
)

// SnapshotStore persists jobs as job_state.json files beneath Root.
type SnapshotStore struct {
	Root string
}

// NewSnapshotStore returns a store rooted at the configured output directory.
func NewSnapshotStore(root string) *SnapshotStore {
	return &SnapshotStore{Root: root}
}

// Prepare assigns the job directory and creates it with its subdirectories.
func (s *SnapshotStore) Prepare(j *Job) error {
	if j.Dir == "" {
		j.Dir = filepath.Join(s.Root, DirName(j.Name, j.CreatedAt))
	}
	for _, dir := range j.Subdirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return services.Wrap(services.ErrConfiguration, "job", "prepare", "create job directory", err)
		}
	}
	return nil
}

// Save writes the full job atomically while holding the job's lock file.
func (s *SnapshotStore) Save(ctx context.Context, j *Job) error {
	if j.Dir == "" {
		return errors.New("job directory not assigned")
	}
	j.Version = SnapshotVersion
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	lock := flock.New(filepath.Join(j.Dir, lockFileName))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock snapshot: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock snapshot: %w", services.ErrConflict)
	}
	defer func() { _ = lock.Unlock() }()

	if err := fileutil.WriteFileAtomic(j.SnapshotPath(), data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot in dir.
func (s *SnapshotStore) Load(dir string) (*Job, error) {
	data, err := os.ReadFile(filepath.Join(dir, SnapshotFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "job", "load", "no snapshot in "+dir, err)
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, services.Wrap(services.ErrDecode, "job", "load", "malformed snapshot in "+dir, err)
	}
	if err := j.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "job", "load", "invalid snapshot in "+dir, err)
	}
	j.Dir = dir
	return &j, nil
}

// LoadError pairs a job directory with the reason it could not be loaded.
type LoadError struct {
	Dir string
	Err error
}

// LoadAll loads every job directory beneath Root, oldest first. Directories
// without a snapshot are skipped; unreadable snapshots are reported
// separately so one bad job does not hide the others.
func (s *SnapshotStore) LoadAll() ([]*Job, []LoadError, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("scan output dir: %w", err)
	}
	var jobs []*Job
	var failures []LoadError
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, SnapshotFileName)); err != nil {
			continue
		}
		j, err := s.Load(dir)
		if err != nil {
			failures = append(failures, LoadError{Dir: dir, Err: err})
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })
	return jobs, failures, nil
}
