package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reelchain/internal/job"
)

// Entry is the indexed summary of one job.
type Entry struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Dir             string    `json:"dir"`
	Status          string    `json:"status"`
	Phase           string    `json:"phase"`
	PlannedStages   int       `json:"planned_stages"`
	AcceptedStages  int       `json:"accepted_stages"`
	Attempts        int       `json:"attempts"`
	CurrentIndex    *int      `json:"current_index,omitempty"`
	CurrentStatus   string    `json:"current_status,omitempty"`
	FinalOutputPath string    `json:"final_output_path,omitempty"`
	PublishedURL    string    `json:"published_url,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EntryFromJob summarises j for the index.
func EntryFromJob(j *job.Job) Entry {
	entry := Entry{
		ID:              j.ID,
		Name:            j.Name,
		Dir:             j.Dir,
		Status:          string(j.Status),
		Phase:           j.Phase(),
		PlannedStages:   j.PlannedStages,
		AcceptedStages:  len(j.Accepted()),
		Attempts:        len(j.Stages),
		FinalOutputPath: j.FinalOutputPath,
		PublishedURL:    j.PublishedURL,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if latest := j.Latest(); latest != nil {
		index := latest.Index
		entry.CurrentIndex = &index
		entry.CurrentStatus = string(latest.Status)
		if latest.Error != nil {
			entry.LastError = latest.Error.Error()
		}
	}
	switch {
	case j.Failure != nil:
		entry.LastError = j.Failure.Error()
	case j.AssemblyError != nil:
		entry.LastError = j.AssemblyError.Error()
	}
	return entry
}

const upsertSQL = `INSERT INTO jobs (
    id, name, dir, status, phase, planned_stages, accepted_stages, attempts,
    current_index, current_status, final_output_path, published_url, last_error,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    dir = excluded.dir,
    status = excluded.status,
    phase = excluded.phase,
    planned_stages = excluded.planned_stages,
    accepted_stages = excluded.accepted_stages,
    attempts = excluded.attempts,
    current_index = excluded.current_index,
    current_status = excluded.current_status,
    final_output_path = excluded.final_output_path,
    published_url = excluded.published_url,
    last_error = excluded.last_error,
    updated_at = excluded.updated_at`

const selectColumns = `id, name, dir, status, phase, planned_stages, accepted_stages, attempts,
    current_index, current_status, final_output_path, published_url, last_error,
    created_at, updated_at`

func upsertArgs(e Entry) []any {
	var current any
	if e.CurrentIndex != nil {
		current = *e.CurrentIndex
	}
	return []any{
		e.ID, e.Name, e.Dir, e.Status, e.Phase, e.PlannedStages, e.AcceptedStages, e.Attempts,
		current, nullableString(e.CurrentStatus), nullableString(e.FinalOutputPath),
		nullableString(e.PublishedURL), nullableString(e.LastError),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	}
}

// Upsert records the current state of j.
func (s *Store) Upsert(ctx context.Context, j *job.Job) error {
	if j == nil || j.ID == "" {
		return errors.New("upsert: job id is required")
	}
	if _, err := s.exec(ctx, upsertSQL, upsertArgs(EntryFromJob(j))...); err != nil {
		return fmt.Errorf("upsert job %s: %w", j.ID, err)
	}
	return nil
}

// Rebuild replaces the index contents with jobs.
func (s *Store) Rebuild(ctx context.Context, jobs []*job.Job) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
			return err
		}
		for _, j := range jobs {
			if _, err := tx.ExecContext(ctx, upsertSQL, upsertArgs(EntryFromJob(j))...); err != nil {
				return fmt.Errorf("index job %s: %w", j.ID, err)
			}
		}
		return nil
	})
}

// Get returns the entry for id, or nil when it is not indexed.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM jobs WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// List returns entries newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...job.Status) ([]*Entry, error) {
	query := "SELECT " + selectColumns + " FROM jobs"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Stats counts indexed jobs by phase.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT phase, COUNT(1) FROM jobs GROUP BY phase")
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var phase string
		var count int
		if err := rows.Scan(&phase, &count); err != nil {
			return nil, err
		}
		stats[phase] = count
	}
	return stats, rows.Err()
}

// Remove deletes the entry for id. The job directory is left untouched.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry                                             Entry
		current                                           sql.NullInt64
		currentStatus, finalPath, publishedURL, lastError sql.NullString
		createdAt, updatedAt                              string
	)
	if err := scanner.Scan(
		&entry.ID, &entry.Name, &entry.Dir, &entry.Status, &entry.Phase,
		&entry.PlannedStages, &entry.AcceptedStages, &entry.Attempts,
		&current, &currentStatus, &finalPath, &publishedURL, &lastError,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	if current.Valid {
		index := int(current.Int64)
		entry.CurrentIndex = &index
	}
	entry.CurrentStatus = currentStatus.String
	entry.FinalOutputPath = finalPath.String
	entry.PublishedURL = publishedURL.String
	entry.LastError = lastError.String

	var err error
	if entry.CreatedAt, err = parseTimeString(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseTimeString(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

// sortableTime is fixed width so created_at orders correctly as text.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sortableTime)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
