package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/provenance/internal/audit/domain"
	auditrepo "github.com/smallbiznis/provenance/internal/audit/repository"
	auditservice "github.com/smallbiznis/provenance/internal/audit/service"
	"github.com/smallbiznis/provenance/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_audit_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.Exec(`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`).Error
	if err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) auditdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(16)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc := newService(t, setupTestDB(t))

	err := svc.AuditLog(context.Background(), "admin", "  ", "system", nil, nil)
	if !errors.Is(err, auditdomain.ErrInvalidAction) {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
}

func TestListPaginates(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db)

	for i := 0; i < 5; i++ {
		target := fmt.Sprintf("%d", i)
		err := svc.AuditLog(ctx, "admin", "product.registered", "product", &target, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("audit log %d: %v", i, err)
		}
	}

	first, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.AuditLogs) != 2 || !first.HasMore || first.NextPageToken == "" {
		t.Fatalf("first page = %d entries, has_more=%v", len(first.AuditLogs), first.HasMore)
	}

	second, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.AuditLogs) != 2 {
		t.Fatalf("second page = %d entries, want 2", len(second.AuditLogs))
	}
	// newest-first, no overlap across pages
	if second.AuditLogs[0].ID >= first.AuditLogs[1].ID {
		t.Fatalf("pages overlap: %d >= %d", second.AuditLogs[0].ID, first.AuditLogs[1].ID)
	}

	third, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: second.NextPageToken},
	})
	if err != nil {
		t.Fatalf("third page: %v", err)
	}
	if len(third.AuditLogs) != 1 || third.HasMore {
		t.Fatalf("third page = %d entries, has_more=%v", len(third.AuditLogs), third.HasMore)
	}
}

func TestListValidatesInput(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, setupTestDB(t))

	_, err := svc.List(ctx, auditdomain.ListRequest{
		Pagination: pagination.Pagination{PageToken: "not-base64!"},
	})
	if !errors.Is(err, auditdomain.ErrInvalidPageToken) {
		t.Fatalf("err = %v, want ErrInvalidPageToken", err)
	}

	start := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListRequest{StartAt: &start, EndAt: &end})
	if !errors.Is(err, auditdomain.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want ErrInvalidTimeRange", err)
	}
}
