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
	db, err := database.Connect(database.DefaultConfig(filepath.Join(t.TempDir(), "executor.sqlite")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Bootstrap(context.Background(), db, Schema))
	return NewStore(db)
}

func TestSubtaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Create(ctx, models.ExecutorSubtask{
		SubtaskUID: "sub-1",
		CreatorUID: "creator-1",
		Status:     models.ExecutorSubtaskStatusWaitingParams,
		CreatedAt:  &created,
	}))

	st, err := s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusWaitingParams, st.Status)
	require.Nil(t, st.DatasetUID)
	require.Nil(t, st.FinishedAt)

	require.NoError(t, s.SetDatasetUID(ctx, "sub-1", "ds-1"))
	require.NoError(t, s.SetStatus(ctx, "sub-1", models.ExecutorSubtaskStatusRunning))

	st, err = s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusRunning, st.Status)
	require.NotNil(t, st.DatasetUID)
	require.Equal(t, "ds-1", *st.DatasetUID)

	finished := created.Add(time.Minute)
	require.NoError(t, s.Finish(ctx, "sub-1", models.ExecutorSubtaskStatusSuccess, finished))

	st, err = s.Get(ctx, "sub-1")
	require.NoError(t, err)
	require.Equal(t, models.ExecutorSubtaskStatusSuccess, st.Status)
	require.NotNil(t, st.FinishedAt)
}

func TestSubtaskNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.SetStatus(ctx, "ghost", models.ExecutorSubtaskStatusRunning), ErrNotFound)
	require.ErrorIs(t, s.Finish(ctx, "ghost", models.ExecutorSubtaskStatusError, time.Now()), ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()
	require.NoError(t, s.Create(ctx, models.ExecutorSubtask{
		SubtaskUID: "sub-old",
		CreatorUID: "creator-1",
		Status:     models.ExecutorSubtaskStatusSuccess,
		CreatedAt:  &older,
	}))
	require.NoError(t, s.Create(ctx, models.ExecutorSubtask{
		SubtaskUID: "sub-new",
		CreatorUID: "creator-1",
		Status:     models.ExecutorSubtaskStatusRunning,
		CreatedAt:  &newer,
	}))

	subtasks, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, subtasks, 2)
	require.Equal(t, "sub-new", subtasks[0].SubtaskUID)
	require.Equal(t, "sub-old", subtasks[1].SubtaskUID)
}
