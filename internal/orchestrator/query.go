package orchestrator

import (
	"context"
	"sort"

	"reelchain/internal/job"
	"reelchain/internal/queue"
)

// Get returns a copy of the job.
func (o *Orchestrator) Get(_ context.Context, jobID string) (*job.Job, error) {
	entry, err := o.lookup(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// List returns index entries newest first, optionally filtered by status.
// Without an index the in-memory jobs are summarised instead.
func (o *Orchestrator) List(ctx context.Context, statuses ...job.Status) ([]*queue.Entry, error) {
	if o.index != nil {
		return o.index.List(ctx, statuses...)
	}
	wanted := make(map[job.Status]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}
	o.mu.RLock()
	entries := make([]*jobEntry, 0, len(o.jobs))
	for _, entry := range o.jobs {
		entries = append(entries, entry)
	}
	o.mu.RUnlock()

	out := make([]*queue.Entry, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if len(wanted) == 0 || wanted[entry.job.Status] {
			summary := queue.EntryFromJob(entry.job)
			out = append(out, &summary)
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID > out[k].ID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

// Count returns the number of jobs held in memory.
func (o *Orchestrator) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.jobs)
}
