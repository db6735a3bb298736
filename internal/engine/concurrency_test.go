package engine_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")

	const agents = 12
	var (
		wins      atomic.Int32
		conflicts atomic.Int32
		winner    atomic.Value
	)
	var g errgroup.Group
	for i := 0; i < agents; i++ {
		agent := domain.Agent{ID: fmt.Sprintf("reviewer-%02d", i), Role: "review_agent"}
		g.Go(func() error {
			_, err := env.Engine.Claim(env.Ctx, c.ID, agent)
			switch {
			case err == nil:
				wins.Add(1)
				winner.Store(agent.ID)
				return nil
			case errors.Is(err, engine.ErrAssignmentConflict):
				conflicts.Add(1)
				return nil
			default:
				return fmt.Errorf("%s: %w", agent.ID, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claims: %v", err)
	}
	if wins.Load() != 1 || conflicts.Load() != agents-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", agents-1, wins.Load(), conflicts.Load())
	}

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.Assignee() != winner.Load() {
		t.Fatalf("expected %v to hold the case, got %q", winner.Load(), got.Assignee())
	}

	hist, err := env.Engine.History(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	claims := 0
	for _, h := range hist {
		if h.Action == domain.ActionClaim && h.Stage == "REVIEW" {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected only the winning claim recorded, got %d", claims)
	}
}

func TestConcurrentClaimsAcrossCases(t *testing.T) {
	env := newTestEnv(t)
	const n = 6
	ids := make([]string, n)
	for i := range ids {
		ids[i] = env.caseAt(t, "TREASURY").ID
	}

	// Every agent walks the queue trying each case until one claim sticks.
	var g errgroup.Group
	held := make([]string, n)
	for i := 0; i < n; i++ {
		agent := domain.Agent{ID: fmt.Sprintf("cashier-%d", i), Role: "treasury_agent"}
		g.Go(func() error {
			for _, id := range ids {
				_, err := env.Engine.Claim(env.Ctx, id, agent)
				if err == nil {
					held[i] = id
					return nil
				}
				if !errors.Is(err, engine.ErrAssignmentConflict) {
					return err
				}
			}
			return fmt.Errorf("%s found nothing to claim", agent.ID)
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("claims: %v", err)
	}

	seen := map[string]bool{}
	for _, id := range held {
		if seen[id] {
			t.Fatalf("case %s claimed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct claims, got %d", n, len(seen))
	}
}

func TestConcurrentAcceptAndForce(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "TAX")
	agent := env.agentFor(t, "TAX")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, agent); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, agent, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	var g errgroup.Group
	errs := make([]error, 2)
	g.Go(func() error {
		_, errs[0] = env.Engine.Accept(env.Ctx, c.ID, agent, "")
		return nil
	})
	g.Go(func() error {
		_, errs[1] = env.Engine.Force(env.Ctx, c.ID, adminAgent, engine.ForceOptions{Action: "reject"})
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		switch engine.Kind(err) {
		case engine.KindAssignmentConflict, engine.KindInvalidTransition, engine.KindPermissionDenied:
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if successes < 1 {
		t.Fatalf("expected at least one of accept and force to succeed: %v", errs)
	}

	got, err := env.Engine.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if got.AssignedAgentID != nil {
		t.Fatalf("expected assignment cleared, held by %s", got.Assignee())
	}
}
