package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/gridmesh/gridmesh/pkg/models"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestStoreGetNode(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"node_uid", "ipv4_address", "port", "role", "status", "last_ping"}).
		AddRow("node-1", "203.0.113.9", 50001, "executor", "active", now)

	mock.ExpectQuery(`FROM nodes\s+WHERE node_uid = \?`).
		WithArgs("node-1").
		WillReturnRows(rows)

	n, err := s.Get(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.Role != models.NodeRoleExecutor || n.Status != models.NodeStatusActive {
		t.Fatalf("unexpected node: %+v", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreGetNodeNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`FROM nodes\s+WHERE node_uid = \?`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"node_uid", "ipv4_address", "port", "role", "status", "last_ping"}))

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetNodeRejectsUnknownStatus(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"node_uid", "ipv4_address", "port", "role", "status", "last_ping"}).
		AddRow("node-1", "203.0.113.9", 50001, "executor", "alive", now)

	mock.ExpectQuery(`FROM nodes\s+WHERE node_uid = \?`).
		WithArgs("node-1").
		WillReturnRows(rows)

	if _, err := s.Get(context.Background(), "node-1"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestStoreUpsertNode(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO nodes .*ON CONFLICT\(node_uid\) DO UPDATE`).
		WithArgs("node-1", "203.0.113.9", 50001, "registry", "active", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Upsert(context.Background(), models.Node{
		NodeUID:     "node-1",
		IPv4Address: "203.0.113.9",
		Port:        50001,
		Role:        models.NodeRoleRegistry,
		Status:      models.NodeStatusActive,
		LastPing:    now,
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreSetStatusMissingNode(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE nodes SET status = \?, last_ping = \? WHERE node_uid = \?`).
		WithArgs("inactive", now, "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetStatus(context.Background(), "ghost", models.NodeStatusInactive, now)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreListByRoleAndStatus(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"node_uid", "ipv4_address", "port", "role", "status", "last_ping"}).
		AddRow("node-1", "203.0.113.9", 50001, "executor", "active", now).
		AddRow("node-2", "203.0.113.10", 50002, "executor", "active", now)

	mock.ExpectQuery(`FROM nodes\s+WHERE role = \? AND status = \?`).
		WithArgs("executor", "active").
		WillReturnRows(rows)

	nodes, err := s.ListByRoleAndStatus(context.Background(), models.NodeRoleExecutor, models.NodeStatusActive)
	if err != nil {
		t.Fatalf("ListByRoleAndStatus: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
}
