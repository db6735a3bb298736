package history

import (
	"context"
	"testing"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/migrate"
)

func TestFormatIsUTCAndSortable(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	a := Format(time.Date(2026, 3, 1, 10, 0, 0, 1000, loc))
	b := Format(time.Date(2026, 3, 1, 8, 0, 0, 2000, time.UTC))
	if a != "2026-03-01T07:00:00.000001Z" {
		t.Fatalf("unexpected format %s", a)
	}
	if !(a < b) {
		t.Fatalf("expected %s < %s", a, b)
	}
}

func TestAppend(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	if _, err := conn.Exec(`INSERT INTO cases(id,current_stage,status,version,created_at,updated_at) VALUES ('c1','INTAKE','NEW',1,'x','x')`); err != nil {
		t.Fatalf("seed case: %v", err)
	}

	w := Writer{Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}
	if _, err := w.Append(ctx, nil, domain.HistoryEntry{CaseID: "c1", Action: "create", AgentID: "a"}); err == nil {
		t.Fatalf("expected error without transaction")
	}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if _, err := w.Append(ctx, tx, domain.HistoryEntry{CaseID: "c1", AgentID: "a"}); err == nil {
		t.Fatalf("expected error for missing action")
	}
	id, err := w.Append(ctx, tx, domain.HistoryEntry{CaseID: "c1", Stage: "INTAKE", Status: "NEW", Action: "create", AgentID: "a"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
	var ts string
	if err := tx.QueryRow(`SELECT ts FROM case_history WHERE id=?`, id).Scan(&ts); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if ts != "2026-01-02T03:04:05.000000Z" {
		t.Fatalf("unexpected ts %s", ts)
	}
}
