package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gridmesh/gridmesh/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Schema is the environment controller DDL, executed at startup
const Schema = `
CREATE TABLE IF NOT EXISTS images (
	image_tag TEXT PRIMARY KEY,
	image_id  TEXT,
	status    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS containers (
	subtask_uid  TEXT PRIMARY KEY,
	image_tag    TEXT NOT NULL,
	container_id TEXT,
	status       TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertImage inserts or rewrites an image row keyed by tag
func (s *Store) UpsertImage(ctx context.Context, img models.Image) error {
	query := `
		INSERT INTO images (image_tag, image_id, status)
		VALUES (?, ?, ?)
		ON CONFLICT(image_tag) DO UPDATE SET
			image_id = excluded.image_id,
			status = excluded.status
	`
	if _, err := s.db.ExecContext(ctx, query, img.ImageTag, img.ImageID, string(img.Status)); err != nil {
		return fmt.Errorf("failed to upsert image: %w", err)
	}
	return nil
}

// SetImageStatus flips an image's lifecycle status
func (s *Store) SetImageStatus(ctx context.Context, imageTag string, status models.ImageStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE images SET status = ? WHERE image_tag = ?`, string(status), imageTag)
	if err != nil {
		return fmt.Errorf("failed to set image status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetImageID records the engine id of a built or pulled image
func (s *Store) SetImageID(ctx context.Context, imageTag, imageID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE images SET image_id = ? WHERE image_tag = ?`, imageID, imageTag)
	if err != nil {
		return fmt.Errorf("failed to set image id: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetImage fetches one image by tag
func (s *Store) GetImage(ctx context.Context, imageTag string) (*models.Image, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT image_tag, image_id, status FROM images WHERE image_tag = ?`, imageTag)

	var img models.Image
	var status string
	err := row.Scan(&img.ImageTag, &img.ImageID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan image: %w", err)
	}
	if img.Status, err = models.ParseImageStatus(status); err != nil {
		return nil, err
	}
	return &img, nil
}

// CreateContainer inserts a new container run row
func (s *Store) CreateContainer(ctx context.Context, c models.ContainerRun) error {
	query := `
		INSERT INTO containers (subtask_uid, image_tag, container_id, status)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, c.SubtaskUID, c.ImageTag, c.ContainerID, string(c.Status)); err != nil {
		return fmt.Errorf("failed to insert container: %w", err)
	}
	return nil
}

// SetContainerStatus flips a container run's status
func (s *Store) SetContainerStatus(ctx context.Context, subtaskUID string, status models.ContainerStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE containers SET status = ? WHERE subtask_uid = ?`, string(status), subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to set container status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetContainerID records the engine id of a started container
func (s *Store) SetContainerID(ctx context.Context, subtaskUID, containerID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE containers SET container_id = ? WHERE subtask_uid = ?`, containerID, subtaskUID)
	if err != nil {
		return fmt.Errorf("failed to set container id: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetContainer fetches one container run by subtask uid
func (s *Store) GetContainer(ctx context.Context, subtaskUID string) (*models.ContainerRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subtask_uid, image_tag, container_id, status FROM containers WHERE subtask_uid = ?`, subtaskUID)

	var c models.ContainerRun
	var status string
	err := row.Scan(&c.SubtaskUID, &c.ImageTag, &c.ContainerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan container: %w", err)
	}
	if c.Status, err = models.ParseContainerStatus(status); err != nil {
		return nil, err
	}
	return &c, nil
}
