package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gridmesh/gridmesh/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Schema is the task executor DDL, executed at startup
const Schema = `
CREATE TABLE IF NOT EXISTS subtasks (
	subtask_uid TEXT PRIMARY KEY,
	creator_uid TEXT NOT NULL,
	dataset_uid TEXT,
	status      TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP
);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new subtask row
func (s *Store) Create(ctx context.Context, st models.ExecutorSubtask) error {
	query := `
		INSERT INTO subtasks (subtask_uid, creator_uid, dataset_uid, status, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		st.SubtaskUID, st.CreatorUID, st.DatasetUID, string(st.Status), st.CreatedAt, st.FinishedAt,
	); err != nil {
		return fmt.Errorf("failed to insert subtask: %w", err)
	}
	return nil
}

// SetStatus flips a subtask's lifecycle status
func (s *Store) SetStatus(ctx context.Context, subtaskUID string, status models.ExecutorSubtaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET status = ? WHERE subtask_uid = ?`, string(status), subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to set subtask status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDatasetUID records which dataset a started subtask runs against
func (s *Store) SetDatasetUID(ctx context.Context, subtaskUID, datasetUID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET dataset_uid = ? WHERE subtask_uid = ?`, datasetUID, subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to set subtask dataset: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Finish records the terminal status and finish time of one subtask
func (s *Store) Finish(ctx context.Context, subtaskUID string, status models.ExecutorSubtaskStatus, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET status = ?, finished_at = ? WHERE subtask_uid = ?`,
		string(status), finishedAt, subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to finish subtask: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches one subtask by uid
func (s *Store) Get(ctx context.Context, subtaskUID string) (*models.ExecutorSubtask, error) {
	query := `
		SELECT subtask_uid, creator_uid, dataset_uid, status, created_at, finished_at
		FROM subtasks
		WHERE subtask_uid = ?
	`
	row := s.db.QueryRowContext(ctx, query, subtaskUID)

	st, err := scanSubtask(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// List returns all subtasks ever accepted, newest first
func (s *Store) List(ctx context.Context) ([]models.ExecutorSubtask, error) {
	query := `
		SELECT subtask_uid, creator_uid, dataset_uid, status, created_at, finished_at
		FROM subtasks
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []models.ExecutorSubtask
	for rows.Next() {
		st, err := scanSubtask(rows.Scan)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, *st)
	}
	return subtasks, rows.Err()
}

func scanSubtask(scan func(...any) error) (*models.ExecutorSubtask, error) {
	var st models.ExecutorSubtask
	var status string
	var createdAt time.Time
	var finishedAt sql.NullTime
	err := scan(&st.SubtaskUID, &st.CreatorUID, &st.DatasetUID, &status, &createdAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subtask: %w", err)
	}
	if st.Status, err = models.ParseExecutorSubtaskStatus(status); err != nil {
		return nil, err
	}
	st.CreatedAt = &createdAt
	if finishedAt.Valid {
		st.FinishedAt = &finishedAt.Time
	}
	return &st, nil
}
