package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridmesh/gridmesh/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Schema is the task controller DDL, executed at startup. Params and results
// are stored as JSON text.
const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_uid    TEXT PRIMARY KEY,
	task_type   TEXT NOT NULL,
	creator_uid TEXT NOT NULL,
	status      TEXT NOT NULL,
	dataset_uid TEXT,
	created_at  TIMESTAMP,
	finished_at TIMESTAMP,
	params      TEXT NOT NULL,
	result      TEXT
);

CREATE TABLE IF NOT EXISTS subtasks (
	subtask_uid  TEXT PRIMARY KEY,
	task_uid     TEXT NOT NULL REFERENCES tasks(task_uid),
	subtask_type TEXT NOT NULL,
	executor_uid TEXT,
	status       TEXT NOT NULL,
	created_at   TIMESTAMP,
	finished_at  TIMESTAMP,
	params       TEXT NOT NULL,
	result       TEXT
);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateTask inserts a new task row
func (s *Store) CreateTask(ctx context.Context, t models.Task) error {
	params, err := encodeJSON(t.Params)
	if err != nil {
		return err
	}
	result, err := encodeNullableJSON(t.Result)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (task_uid, task_type, creator_uid, status, dataset_uid, created_at, finished_at, params, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		t.TaskUID, string(t.TaskType), t.CreatorUID, string(t.Status),
		t.DatasetUID, t.CreatedAt, t.FinishedAt, params, result,
	); err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// SetTaskStatus advances a task along its lifecycle
func (s *Store) SetTaskStatus(ctx context.Context, taskUID string, status models.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE task_uid = ?`, string(status), taskUID)
	if err != nil {
		return fmt.Errorf("failed to set task status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskDataset records which dataset a task was published as
func (s *Store) SetTaskDataset(ctx context.Context, taskUID, datasetUID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET dataset_uid = ? WHERE task_uid = ?`, datasetUID, taskUID)
	if err != nil {
		return fmt.Errorf("failed to set task dataset: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishTask records the terminal status, the reduced result and the finish
// time of one task
func (s *Store) FinishTask(ctx context.Context, taskUID string, status models.TaskStatus, result map[string]any, finishedAt time.Time) error {
	encoded, err := encodeNullableJSON(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, finished_at = ? WHERE task_uid = ?`,
		string(status), encoded, finishedAt, taskUID)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetTask fetches one task with its subtasks
func (s *Store) GetTask(ctx context.Context, taskUID string) (*models.Task, error) {
	query := `
		SELECT task_uid, task_type, creator_uid, status, dataset_uid, created_at, finished_at, params, result
		FROM tasks
		WHERE task_uid = ?
	`
	t, err := scanTask(s.db.QueryRowContext(ctx, query, taskUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Subtasks, err = s.ListSubtasks(ctx, taskUID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns all tasks, newest first, without their subtasks
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	query := `
		SELECT task_uid, task_type, creator_uid, status, dataset_uid, created_at, finished_at, params, result
		FROM tasks
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CreateSubtask inserts a new creator-side subtask row
func (s *Store) CreateSubtask(ctx context.Context, st models.Subtask) error {
	params, err := encodeJSON(st.Params)
	if err != nil {
		return err
	}
	result, err := encodeNullableJSON(st.Result)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO subtasks (subtask_uid, task_uid, subtask_type, executor_uid, status, created_at, finished_at, params, result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		st.SubtaskUID, st.TaskUID, string(st.SubtaskType), st.ExecutorUID,
		string(st.Status), st.CreatedAt, st.FinishedAt, params, result,
	); err != nil {
		return fmt.Errorf("failed to insert subtask: %w", err)
	}
	return nil
}

// SetSubtaskStatus flips a creator-side subtask status
func (s *Store) SetSubtaskStatus(ctx context.Context, subtaskUID string, status models.SubtaskStatus) error {
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

// FinishSubtask records the terminal status and finish time of one subtask
func (s *Store) FinishSubtask(ctx context.Context, subtaskUID string, status models.SubtaskStatus, finishedAt time.Time) error {
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

// SetSubtaskResult records the raw result payload collected from an executor
func (s *Store) SetSubtaskResult(ctx context.Context, subtaskUID string, result map[string]any) error {
	encoded, err := encodeNullableJSON(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subtasks SET result = ? WHERE subtask_uid = ?`, encoded, subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to set subtask result: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSubtask fetches one creator-side subtask by uid
func (s *Store) GetSubtask(ctx context.Context, subtaskUID string) (*models.Subtask, error) {
	query := `
		SELECT subtask_uid, task_uid, subtask_type, executor_uid, status, created_at, finished_at, params, result
		FROM subtasks
		WHERE subtask_uid = ?
	`
	st, err := scanSubtask(s.db.QueryRowContext(ctx, query, subtaskUID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// ListSubtasks returns a task's subtasks in creation order
func (s *Store) ListSubtasks(ctx context.Context, taskUID string) ([]models.Subtask, error) {
	query := `
		SELECT subtask_uid, task_uid, subtask_type, executor_uid, status, created_at, finished_at, params, result
		FROM subtasks
		WHERE task_uid = ?
		ORDER BY subtask_uid
	`
	rows, err := s.db.QueryContext(ctx, query, taskUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []models.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows.Scan)
		if err != nil {
			return nil, err
		}
		subtasks = append(subtasks, *st)
	}
	return subtasks, rows.Err()
}

func scanTask(scan func(...any) error) (*models.Task, error) {
	var t models.Task
	var taskType, status, params string
	var result sql.NullString
	var createdAt, finishedAt sql.NullTime
	err := scan(&t.TaskUID, &taskType, &t.CreatorUID, &status, &t.DatasetUID,
		&createdAt, &finishedAt, &params, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if t.TaskType, err = models.ParseTaskType(taskType); err != nil {
		return nil, err
	}
	if t.Status, err = models.ParseTaskStatus(status); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t.CreatedAt = &createdAt.Time
	}
	if finishedAt.Valid {
		t.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal([]byte(params), &t.Params); err != nil {
		return nil, fmt.Errorf("failed to decode task params: %w", err)
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &t.Result); err != nil {
			return nil, fmt.Errorf("failed to decode task result: %w", err)
		}
	}
	return &t, nil
}

func scanSubtask(scan func(...any) error) (*models.Subtask, error) {
	var st models.Subtask
	var subtaskType, status, params string
	var result sql.NullString
	var createdAt, finishedAt sql.NullTime
	err := scan(&st.SubtaskUID, &st.TaskUID, &subtaskType, &st.ExecutorUID,
		&status, &createdAt, &finishedAt, &params, &result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subtask: %w", err)
	}
	if st.SubtaskType, err = models.ParseSubtaskType(subtaskType); err != nil {
		return nil, err
	}
	if st.Status, err = models.ParseSubtaskStatus(status); err != nil {
		return nil, err
	}
	if createdAt.Valid {
		st.CreatedAt = &createdAt.Time
	}
	if finishedAt.Valid {
		st.FinishedAt = &finishedAt.Time
	}
	if err := json.Unmarshal([]byte(params), &st.Params); err != nil {
		return nil, fmt.Errorf("failed to decode subtask params: %w", err)
	}
	if result.Valid {
		if err := json.Unmarshal([]byte(result.String), &st.Result); err != nil {
			return nil, fmt.Errorf("failed to decode subtask result: %w", err)
		}
	}
	return &st, nil
}

func encodeJSON(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode params: %w", err)
	}
	return string(raw), nil
}

func encodeNullableJSON(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return string(raw), nil
}
