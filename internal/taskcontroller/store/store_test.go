package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridmesh/gridmesh/pkg/database"
	"github.com/gridmesh/gridmesh/pkg/logging"
	"github.com/gridmesh/gridmesh/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logging.NewLogger()
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "task.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, Schema))
	return NewStore(db)
}

func newTask(uid string, createdAt time.Time) models.Task {
	return models.Task{
		TaskUID:    uid,
		TaskType:   models.TaskTypeGridSearch,
		CreatorUID: "creator-1",
		Status:     models.TaskStatusCreating,
		CreatedAt:  &createdAt,
		Params: map[string]any{
			"model_type": "DecisionTreeClassifier",
			"subtasks_params": []any{
				map[string]any{"criterion": "gini", "max_depth": 5.0},
				map[string]any{"criterion": "entropy", "max_depth": 6.0},
			},
		},
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateTask(ctx, newTask("task-1", created)))

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusCreating, task.Status)
	require.Nil(t, task.Result)
	require.Nil(t, task.FinishedAt)
	require.Contains(t, task.Params, "subtasks_params")

	require.NoError(t, s.SetTaskStatus(ctx, "task-1", models.TaskStatusExecutorsSearching))
	require.NoError(t, s.SetTaskDataset(ctx, "task-1", "ds-1"))

	result := map[string]any{"criterion": "gini", "max_depth": 5.0, "f1_score": 0.91}
	require.NoError(t, s.FinishTask(ctx, "task-1", models.TaskStatusSuccess, result, created.Add(time.Minute)))

	task, err = s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, models.TaskStatusSuccess, task.Status)
	require.NotNil(t, task.DatasetUID)
	require.Equal(t, "ds-1", *task.DatasetUID)
	require.NotNil(t, task.FinishedAt)
	require.Equal(t, 0.91, task.Result["f1_score"])
}

func TestTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTask(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.SetTaskStatus(ctx, "ghost", models.TaskStatusError), ErrNotFound)
	require.ErrorIs(t, s.FinishTask(ctx, "ghost", models.TaskStatusError, nil, time.Now()), ErrNotFound)
}

func TestSubtaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.CreateTask(ctx, newTask("task-1", created)))

	executorUID := "exec-1"
	require.NoError(t, s.CreateSubtask(ctx, models.Subtask{
		SubtaskUID:  "sub-1",
		TaskUID:     "task-1",
		SubtaskType: models.SubtaskTypeGridSearch,
		ExecutorUID: &executorUID,
		Status:      models.SubtaskStatusCreating,
		CreatedAt:   &created,
		Params: map[string]any{
			"model_type":     "DecisionTreeClassifier",
			"subtask_params": []any{map[string]any{"criterion": "gini", "max_depth": 5.0}},
		},
	}))

	require.NoError(t, s.SetSubtaskStatus(ctx, "sub-1", models.SubtaskStatusRunning))
	require.NoError(t, s.SetSubtaskResult(ctx, "sub-1", map[string]any{
		"result": []any{map[string]any{"f1_score": 0.91}},
	}))
	require.NoError(t, s.FinishSubtask(ctx, "sub-1", models.SubtaskStatusSuccess, created.Add(time.Minute)))

	st, err := s.GetSubtask(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.SubtaskStatusSuccess, st.Status)
	require.Equal(t, "exec-1", *st.ExecutorUID)
	require.NotNil(t, st.FinishedAt)
	require.Contains(t, st.Result, "result")

	task, err := s.GetTask(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	require.Equal(t, "sub-1", task.Subtasks[0].SubtaskUID)
}

func TestListTasksNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	require.NoError(t, s.CreateTask(ctx, newTask("task-old", older)))
	require.NoError(t, s.CreateTask(ctx, newTask("task-new", newer)))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "task-new", tasks[0].TaskUID)
	require.Equal(t, "task-old", tasks[1].TaskUID)
}
