package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"caseflow/internal/domain"
	"caseflow/internal/history"
)

// ReconcilerAgentID is recorded as the actor of automatic releases.
const ReconcilerAgentID = "system:reconciler"

// ReclaimStale releases claims with no activity for longer than timeout.
// Each release is a conditional write, so a case touched meanwhile is skipped.
func (e Engine) ReclaimStale(ctx context.Context, timeout time.Duration) (n int, err error) {
	ctx, done := e.Tel.Start(ctx, "reclaim")
	defer func() { done(Kind(err), err) }()

	if timeout <= 0 {
		return 0, invalidInput("claim timeout must be positive")
	}
	cutoff := history.Format(e.now().Add(-timeout))
	stale, err := e.Repo.StaleClaims(ctx, cutoff, 100)
	if err != nil {
		return 0, err
	}
	for _, c := range stale {
		ok, err := e.reclaimOne(ctx, c, timeout)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (e Engine) reclaimOne(ctx context.Context, c domain.Case, timeout time.Duration) (bool, error) {
	now := e.stamp()
	released := false
	err := e.Repo.InTx(ctx, func(tx *sql.Tx) error {
		released = false
		ok, err := e.Repo.ReleaseStale(ctx, tx, c, now)
		if err != nil || !ok {
			return err
		}
		if _, err := e.Writer.Append(ctx, tx, domain.HistoryEntry{
			CaseID:  c.ID,
			Stage:   c.CurrentStage,
			Status:  c.Status,
			Action:  domain.ActionReclaim,
			AgentID: ReconcilerAgentID,
			Note:    fmt.Sprintf("claim by %s idle for more than %s", c.Assignee(), timeout),
			TS:      now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		released = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if released {
		e.log().InfoContext(ctx, "stale claim released", "case_id", c.ID, "holder", c.Assignee(), "stage", c.CurrentStage)
	}
	return released, nil
}

// RunReconciler calls ReclaimStale every interval until ctx is done.
func (e Engine) RunReconciler(ctx context.Context, every, timeout time.Duration) {
	if every <= 0 || timeout <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ReclaimStale(ctx, timeout); err != nil {
				e.log().WarnContext(ctx, "reconcile failed", "error", err)
			}
		}
	}
}
