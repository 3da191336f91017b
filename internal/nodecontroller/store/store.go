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

// Schema is the node controller DDL, executed at startup
const Schema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_uid     TEXT PRIMARY KEY,
	ipv4_address TEXT NOT NULL,
	port         INTEGER NOT NULL,
	role         TEXT NOT NULL,
	status       TEXT NOT NULL,
	last_ping    TIMESTAMP NOT NULL
);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new node row
func (s *Store) Create(ctx context.Context, n models.Node) error {
	query := `
		INSERT INTO nodes (node_uid, ipv4_address, port, role, status, last_ping)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		n.NodeUID, n.IPv4Address, n.Port, string(n.Role), string(n.Status), n.LastPing,
	); err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

// Update rewrites everything but the immutable node_uid
func (s *Store) Update(ctx context.Context, n models.Node) error {
	query := `
		UPDATE nodes
		SET ipv4_address = ?, port = ?, role = ?, status = ?, last_ping = ?
		WHERE node_uid = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		n.IPv4Address, n.Port, string(n.Role), string(n.Status), n.LastPing, n.NodeUID,
	)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert inserts or rewrites a node row keyed by node_uid
func (s *Store) Upsert(ctx context.Context, n models.Node) error {
	query := `
		INSERT INTO nodes (node_uid, ipv4_address, port, role, status, last_ping)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_uid) DO UPDATE SET
			ipv4_address = excluded.ipv4_address,
			port = excluded.port,
			role = excluded.role,
			status = excluded.status,
			last_ping = excluded.last_ping
	`
	if _, err := s.db.ExecContext(ctx, query,
		n.NodeUID, n.IPv4Address, n.Port, string(n.Role), string(n.Status), n.LastPing,
	); err != nil {
		return fmt.Errorf("failed to upsert node: %w", err)
	}
	return nil
}

// Delete removes a node row
func (s *Store) Delete(ctx context.Context, nodeUID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE node_uid = ?`, nodeUID); err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return nil
}

// Get fetches one node by uid
func (s *Store) Get(ctx context.Context, nodeUID string) (*models.Node, error) {
	query := `
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes
		WHERE node_uid = ?
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, nodeUID))
}

// List returns all known nodes
func (s *Store) List(ctx context.Context) ([]models.Node, error) {
	query := `
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes
		ORDER BY node_uid
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// ListByStatus returns all nodes with the given status
func (s *Store) ListByStatus(ctx context.Context, status models.NodeStatus) ([]models.Node, error) {
	query := `
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes
		WHERE status = ?
		ORDER BY node_uid
	`
	rows, err := s.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// ListByRoleAndStatus returns all nodes matching both role and status
func (s *Store) ListByRoleAndStatus(ctx context.Context, role models.NodeRole, status models.NodeStatus) ([]models.Node, error) {
	query := `
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes
		WHERE role = ? AND status = ?
		ORDER BY node_uid
	`
	rows, err := s.db.QueryContext(ctx, query, string(role), string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()
	return s.scanAll(rows)
}

// SetStatus flips the liveness state of one node without touching its
// endpoint
func (s *Store) SetStatus(ctx context.Context, nodeUID string, status models.NodeStatus, lastPing time.Time) error {
	query := `UPDATE nodes SET status = ?, last_ping = ? WHERE node_uid = ?`
	res, err := s.db.ExecContext(ctx, query, string(status), lastPing, nodeUID)
	if err != nil {
		return fmt.Errorf("failed to set node status: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) scanOne(row *sql.Row) (*models.Node, error) {
	var n models.Node
	var role, status string
	err := row.Scan(&n.NodeUID, &n.IPv4Address, &n.Port, &role, &status, &n.LastPing)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan node: %w", err)
	}
	if n.Role, err = models.ParseNodeRole(role); err != nil {
		return nil, err
	}
	if n.Status, err = models.ParseNodeStatus(status); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Store) scanAll(rows *sql.Rows) ([]models.Node, error) {
	var nodes []models.Node
	for rows.Next() {
		var n models.Node
		var role, status string
		if err := rows.Scan(&n.NodeUID, &n.IPv4Address, &n.Port, &role, &status, &n.LastPing); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		var err error
		if n.Role, err = models.ParseNodeRole(role); err != nil {
			return nil, err
		}
		if n.Status, err = models.ParseNodeStatus(status); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
