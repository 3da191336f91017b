package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gridmesh/gridmesh/pkg/models"
)

var ErrNotFound = errors.New("record not found")

// Schema is the data controller DDL, executed at startup
const Schema = `
CREATE TABLE IF NOT EXISTS datasets (
	dataset_uid TEXT PRIMARY KEY,
	magnet_link TEXT,
	path        TEXT NOT NULL,
	status      TEXT NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new dataset row
func (s *Store) Create(ctx context.Context, d models.Dataset) error {
	query := `
		INSERT INTO datasets (dataset_uid, magnet_link, path, status)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, d.DatasetUID, d.MagnetLink, d.Path, string(d.Status)); err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	return nil
}

// SetStatus flips a dataset's lifecycle status
func (s *Store) SetStatus(ctx context.Context, datasetUID string, status models.DatasetStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET status = ? WHERE dataset_uid = ?`, string(status), datasetUID)
	if err != nil {
		return fmt.Errorf("failed to set dataset status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMagnetLink records the magnet link of a published dataset
func (s *Store) SetMagnetLink(ctx context.Context, datasetUID, magnetLink string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET magnet_link = ? WHERE dataset_uid = ?`, magnetLink, datasetUID)
	if err != nil {
		return fmt.Errorf("failed to set magnet link: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches one dataset by uid
func (s *Store) Get(ctx context.Context, datasetUID string) (*models.Dataset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT dataset_uid, magnet_link, path, status FROM datasets WHERE dataset_uid = ?`, datasetUID)

	var d models.Dataset
	var status string
	err := row.Scan(&d.DatasetUID, &d.MagnetLink, &d.Path, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}
	if d.Status, err = models.ParseDatasetStatus(status); err != nil {
		return nil, err
	}
	return &d, nil
}
