package engine_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	Engine engine.Engine
	Clock  *testClock
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng, err := engine.New(conn, db.DriverSQLite, config.Default())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := &testClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng.Now = clock.Now
	return testEnv{Engine: eng, Clock: clock, Ctx: context.Background()}
}

var (
	intakeAgent   = domain.Agent{ID: "ines", Role: "intake_agent"}
	treasuryAgent = domain.Agent{ID: "tom", Role: "treasury_agent"}
	reviewA       = domain.Agent{ID: "rita", Role: "review_agent"}
	reviewB       = domain.Agent{ID: "raj", Role: "review_agent"}
	adminAgent    = domain.Agent{ID: "ada", Role: "admin"}
)

// agentFor returns a deterministic agent holding the role that edits stage.
func (env testEnv) agentFor(t *testing.T, stage string) domain.Agent {
	t.Helper()
	st, err := env.Engine.Stages.StageFor(stage)
	if err != nil {
		t.Fatalf("stage %s: %v", stage, err)
	}
	return domain.Agent{ID: strings.ToLower(stage) + "-agent", Role: st.Role}
}

func (env testEnv) createCase(t *testing.T) domain.Case {
	t.Helper()
	env.Clock.Advance(time.Second)
	c, err := env.Engine.CreateCase(env.Ctx, intakeAgent, engine.CreateCaseOptions{Reference: "RC-001", Applicant: "Acme SARL"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	return c
}

// advance works the case through its current stage: claim, start, accept.
func (env testEnv) advance(t *testing.T, caseID string) domain.Case {
	t.Helper()
	c, err := env.Engine.GetCase(env.Ctx, caseID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	agent := env.agentFor(t, c.CurrentStage)
	if _, err := env.Engine.Claim(env.Ctx, caseID, agent); err != nil {
		t.Fatalf("claim at %s: %v", c.CurrentStage, err)
	}
	if _, err := env.Engine.Start(env.Ctx, caseID, agent, ""); err != nil {
		t.Fatalf("start at %s: %v", c.CurrentStage, err)
	}
	stage := c.CurrentStage
	c, err = env.Engine.Accept(env.Ctx, caseID, agent, "")
	if err != nil {
		t.Fatalf("accept at %s: %v", stage, err)
	}
	return c
}

func (env testEnv) caseAt(t *testing.T, stage string) domain.Case {
	t.Helper()
	c := env.createCase(t)
	for c.CurrentStage != stage {
		c = env.advance(t, c.ID)
		if c.Completed() {
			t.Fatalf("case completed before reaching %s", stage)
		}
	}
	return c
}

func TestCreateCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCase(t)
	if c.CurrentStage != "INTAKE" || c.Status != domain.StatusNew || c.AssignedAgentID != nil || c.Version != 1 {
		t.Fatalf("unexpected new case: %+v", c)
	}
	hist, err := env.Engine.History(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Action != domain.ActionCreate || hist[0].AgentID != intakeAgent.ID {
		t.Fatalf("unexpected history: %+v", hist)
	}

	if _, err := env.Engine.CreateCase(env.Ctx, treasuryAgent, engine.CreateCaseOptions{}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("treasury agent should not open cases, got %v", err)
	}
	if _, err := env.Engine.CreateCase(env.Ctx, adminAgent, engine.CreateCaseOptions{ID: c.ID}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("duplicate id should be rejected, got %v", err)
	}
	if _, err := env.Engine.CreateCase(env.Ctx, domain.Agent{ID: "x"}, engine.CreateCaseOptions{}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("missing role should be rejected, got %v", err)
	}
}

func TestClaimStartAcceptAdvancesStage(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "TREASURY")
	if c.Status != domain.StatusNew || c.AssignedAgentID != nil {
		t.Fatalf("expected unassigned NEW case at TREASURY, got %+v", c)
	}

	claimed, err := env.Engine.Claim(env.Ctx, c.ID, treasuryAgent)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !claimed.AssignedTo(treasuryAgent.ID) || claimed.Status != domain.StatusNew {
		t.Fatalf("claim should assign without changing status: %+v", claimed)
	}
	started, err := env.Engine.Start(env.Ctx, c.ID, treasuryAgent, "checking receipt")
	if err != nil || started.Status != domain.StatusInProgress {
		t.Fatalf("start: %v %+v", err, started)
	}
	accepted, err := env.Engine.Accept(env.Ctx, c.ID, treasuryAgent, "fees paid")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.CurrentStage != "REVIEW" || accepted.Status != domain.StatusNew || accepted.AssignedAgentID != nil {
		t.Fatalf("expected REVIEW/NEW unassigned, got %+v", accepted)
	}

	hist, err := env.Engine.History(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var sawValidated, sawAdvance bool
	for _, h := range hist {
		if h.Stage == "TREASURY" && h.Status == domain.StatusValidated && h.Action == domain.ActionAccept && h.Note == "fees paid" {
			sawValidated = true
		}
		if h.Stage == "REVIEW" && h.Status == domain.StatusNew && h.Action == domain.ActionAdvance {
			sawAdvance = true
		}
	}
	if !sawValidated || !sawAdvance {
		t.Fatalf("history missing validation/advance entries: %+v", hist)
	}
}

func TestAcceptWithoutStartIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, reviewA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.Accept(env.Ctx, c.ID, reviewA, "")
	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var te *engine.TransitionError
	if !errors.As(err, &te) || te.Status != domain.StatusNew {
		t.Fatalf("expected TransitionError from NEW, got %v", err)
	}
	after, _ := env.Engine.GetCase(env.Ctx, c.ID)
	if after.Status != domain.StatusNew || after.CurrentStage != "REVIEW" || after.Version != c.Version+1 {
		t.Fatalf("case changed after refused accept: %+v", after)
	}
}

func TestNonAssigneeCannotTransition(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, reviewB); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, reviewB, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	for name, op := range map[string]func() (domain.Case, error){
		"accept":       func() (domain.Case, error) { return env.Engine.Accept(env.Ctx, c.ID, reviewA, "") },
		"reject":       func() (domain.Case, error) { return env.Engine.Reject(env.Ctx, c.ID, reviewA, "") },
		"request_info": func() (domain.Case, error) { return env.Engine.RequestInfo(env.Ctx, c.ID, reviewA, "") },
		"release":      func() (domain.Case, error) { return env.Engine.Release(env.Ctx, c.ID, reviewA) },
	} {
		if _, err := op(); !errors.Is(err, engine.ErrPermissionDenied) {
			t.Fatalf("%s by non-assignee: expected permission denied, got %v", name, err)
		}
	}
	after, _ := env.Engine.GetCase(env.Ctx, c.ID)
	if !after.AssignedTo(reviewB.ID) || after.Status != domain.StatusInProgress {
		t.Fatalf("case changed after refused operations: %+v", after)
	}
}

func TestClaimRequiresStageRole(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "TREASURY")
	_, err := env.Engine.Claim(env.Ctx, c.ID, reviewA)
	var pe *engine.PermissionError
	if !errors.As(err, &pe) || pe.Role != "review_agent" {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if _, err := env.Engine.Claim(env.Ctx, "missing", treasuryAgent); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestClaimHeldCaseConflicts(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, reviewA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.Claim(env.Ctx, c.ID, reviewB)
	var ce *engine.ConflictError
	if !errors.As(err, &ce) || ce.HeldBy != reviewA.ID {
		t.Fatalf("expected conflict held by %s, got %v", reviewA.ID, err)
	}
	if !engine.Retryable(err) {
		t.Fatalf("conflict should be retryable")
	}

	before, _ := env.Engine.History(env.Ctx, c.ID)
	again, err := env.Engine.Claim(env.Ctx, c.ID, reviewA)
	if err != nil || !again.AssignedTo(reviewA.ID) {
		t.Fatalf("re-claim by holder should succeed: %v", err)
	}
	after, _ := env.Engine.History(env.Ctx, c.ID)
	if len(after) != len(before) {
		t.Fatalf("re-claim appended history: %d -> %d", len(before), len(after))
	}
}

func TestReleaseIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "TAX")
	agent := env.agentFor(t, "TAX")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, agent); err != nil {
		t.Fatalf("claim: %v", err)
	}
	first, err := env.Engine.Release(env.Ctx, c.ID, agent)
	if err != nil || first.AssignedAgentID != nil {
		t.Fatalf("release: %v %+v", err, first)
	}
	second, err := env.Engine.Release(env.Ctx, c.ID, agent)
	if err != nil || second.AssignedAgentID != nil || second.Version != first.Version {
		t.Fatalf("second release should be a no-op: %v %+v", err, second)
	}
	hist, _ := env.Engine.History(env.Ctx, c.ID)
	releases := 0
	for _, h := range hist {
		if h.Action == domain.ActionRelease {
			releases++
		}
	}
	if releases != 1 {
		t.Fatalf("expected one release entry, got %d", releases)
	}
}

func TestOverrideReleasesAnyClaim(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, reviewA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	out, err := env.Engine.Release(env.Ctx, c.ID, adminAgent)
	if err != nil || out.AssignedAgentID != nil {
		t.Fatalf("override release: %v %+v", err, out)
	}
	hist, _ := env.Engine.History(env.Ctx, c.ID)
	last := hist[len(hist)-1]
	if last.Action != domain.ActionRelease || last.AgentID != adminAgent.ID || !strings.Contains(last.Note, reviewA.ID) {
		t.Fatalf("unexpected release entry: %+v", last)
	}
}

func TestRejectAndRequestInfoKeepAssignment(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, reviewA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, reviewA, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	rejected, err := env.Engine.Reject(env.Ctx, c.ID, reviewA, "statutes unsigned")
	if err != nil || rejected.Status != domain.StatusRejected || !rejected.AssignedTo(reviewA.ID) || rejected.CurrentStage != "REVIEW" {
		t.Fatalf("reject: %v %+v", err, rejected)
	}
	if _, err := env.Engine.RequestInfo(env.Ctx, c.ID, reviewA, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("request info from REJECTED should be invalid, got %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, reviewA, "resubmitted"); err != nil {
		t.Fatalf("restart after reject: %v", err)
	}
	incomplete, err := env.Engine.RequestInfo(env.Ctx, c.ID, reviewA, "missing ID copy")
	if err != nil || incomplete.Status != domain.StatusIncomplete || !incomplete.AssignedTo(reviewA.ID) {
		t.Fatalf("request info: %v %+v", err, incomplete)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, reviewA, ""); err != nil {
		t.Fatalf("restart after request info: %v", err)
	}
	if _, err := env.Engine.Start(env.Ctx, c.ID, reviewA, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("start from IN_PROGRESS should be invalid, got %v", err)
	}
}

func TestForceRejectResetsToIntake(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "TAX")
	agent := env.agentFor(t, "TAX")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, agent); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := env.Engine.Force(env.Ctx, c.ID, agent, engine.ForceOptions{Action: "reject"}); !errors.Is(err, engine.ErrPermissionDenied) {
		t.Fatalf("non-override force should be denied, got %v", err)
	}
	if _, err := env.Engine.Force(env.Ctx, c.ID, adminAgent, engine.ForceOptions{Action: "archive"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("unknown force action should be invalid input, got %v", err)
	}

	out, err := env.Engine.Force(env.Ctx, c.ID, adminAgent, engine.ForceOptions{Action: "reject", Note: "fraud suspicion", ResetToIntake: true})
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if out.CurrentStage != "INTAKE" || out.Status != domain.StatusNew || out.AssignedAgentID != nil {
		t.Fatalf("expected INTAKE/NEW unassigned, got %+v", out)
	}
	hist, _ := env.Engine.History(env.Ctx, c.ID)
	n := len(hist)
	if n < 2 || hist[n-2].Action != domain.ActionForceReject || hist[n-2].Stage != "TAX" || hist[n-2].Note != "fraud suspicion" ||
		hist[n-1].Action != domain.ActionReset || hist[n-1].Stage != "INTAKE" {
		t.Fatalf("unexpected force history tail: %+v", hist[n-2:])
	}
}

func TestForceRequestInfoWithoutReset(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "REGISTRY_1")
	agent := env.agentFor(t, "REGISTRY_1")
	if _, err := env.Engine.Claim(env.Ctx, c.ID, agent); err != nil {
		t.Fatalf("claim: %v", err)
	}
	out, err := env.Engine.Force(env.Ctx, c.ID, adminAgent, engine.ForceOptions{Action: "request_info"})
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if out.CurrentStage != "REGISTRY_1" || out.Status != domain.StatusIncomplete || out.AssignedAgentID != nil {
		t.Fatalf("unexpected forced case: %+v", out)
	}
}

func TestTerminalAcceptCompletesCase(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "RELEASE")
	done := env.advance(t, c.ID)
	if !done.Completed() || done.CurrentStage != "RELEASE" || done.Status != domain.StatusValidated || done.AssignedAgentID != nil {
		t.Fatalf("expected completed case, got %+v", done)
	}
	if _, err := env.Engine.Claim(env.Ctx, c.ID, env.agentFor(t, "RELEASE")); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("claim on completed case should be invalid, got %v", err)
	}
	if _, err := env.Engine.Force(env.Ctx, c.ID, adminAgent, engine.ForceOptions{Action: "reject", ResetToIntake: true}); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Fatalf("force on completed case should be invalid, got %v", err)
	}
}

func TestStageNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	c := env.caseAt(t, "RELEASE")
	env.advance(t, c.ID)
	hist, err := env.Engine.History(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	prev := -1
	for _, h := range hist {
		idx := env.Engine.Stages.Index(h.Stage)
		if idx < prev {
			t.Fatalf("stage regressed at entry %+v", h)
		}
		prev = idx
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].ID <= hist[i-1].ID || hist[i].TS < hist[i-1].TS {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.createCase(t)
	if _, err := env.Engine.DB.Exec(`UPDATE case_history SET note='x' WHERE case_id=?`, c.ID); err == nil {
		t.Fatalf("expected update on case_history to fail")
	}
	if _, err := env.Engine.DB.Exec(`DELETE FROM case_history WHERE case_id=?`, c.ID); err == nil {
		t.Fatalf("expected delete on case_history to fail")
	}
}

func TestQueries(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, env.createCase(t).ID)
	}
	if _, err := env.Engine.Claim(env.Ctx, ids[4], intakeAgent); err != nil {
		t.Fatalf("claim: %v", err)
	}

	page, err := env.Engine.ListUnassigned(env.Ctx, "INTAKE", 1, 2)
	if err != nil {
		t.Fatalf("list unassigned: %v", err)
	}
	if page.Total != 4 || len(page.Items) != 2 || page.Items[0].ID != ids[3] || page.Items[1].ID != ids[2] {
		t.Fatalf("unexpected first page: %+v", page)
	}
	page, err = env.Engine.ListUnassigned(env.Ctx, "INTAKE", 2, 2)
	if err != nil || len(page.Items) != 2 || page.Items[0].ID != ids[1] || page.Items[1].ID != ids[0] {
		t.Fatalf("unexpected second page: %v %+v", err, page)
	}
	page, err = env.Engine.ListUnassigned(env.Ctx, "INTAKE", 3, 2)
	if err != nil || len(page.Items) != 0 || page.Items == nil {
		t.Fatalf("past-the-end page should be empty: %v %+v", err, page)
	}

	mine, err := env.Engine.ListAssignedTo(env.Ctx, intakeAgent.ID, 0, 0)
	if err != nil || mine.Total != 1 || mine.Items[0].ID != ids[4] || mine.Page != 1 || mine.Size != 20 {
		t.Fatalf("assigned list: %v %+v", err, mine)
	}
	big, err := env.Engine.ListUnassigned(env.Ctx, "INTAKE", 1, 10000)
	if err != nil || big.Size != 200 {
		t.Fatalf("size should be capped: %v %+v", err, big)
	}

	if _, err := env.Engine.ListUnassigned(env.Ctx, "ARCHIVE", 1, 10); engine.Kind(err) != engine.KindNotFound {
		t.Fatalf("unknown stage should be not found, got %v", err)
	}
	if _, err := env.Engine.ListAssignedTo(env.Ctx, " ", 1, 10); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("empty agent should be invalid input, got %v", err)
	}
	for _, p := range []int{math.MaxInt32, math.MaxInt} {
		if _, err := env.Engine.ListUnassigned(env.Ctx, "INTAKE", p, 20); !errors.Is(err, engine.ErrInvalidInput) {
			t.Fatalf("page %d should be invalid input, got %v", p, err)
		}
	}
	all, err := env.Engine.ListCases(env.Ctx, engine.CaseQuery{Status: domain.StatusNew})
	if err != nil || all.Total != 5 {
		t.Fatalf("list cases: %v %+v", err, all)
	}
	if _, err := env.Engine.History(env.Ctx, "missing"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("history of missing case: %v", err)
	}
}

func TestReclaimStale(t *testing.T) {
	env := newTestEnv(t)
	idle := env.caseAt(t, "REVIEW")
	busy := env.caseAt(t, "REVIEW")
	if _, err := env.Engine.Claim(env.Ctx, idle.ID, reviewA); err != nil {
		t.Fatalf("claim idle: %v", err)
	}
	env.Clock.Advance(90 * time.Minute)
	if _, err := env.Engine.Claim(env.Ctx, busy.ID, reviewB); err != nil {
		t.Fatalf("claim busy: %v", err)
	}
	env.Clock.Advance(10 * time.Minute)

	n, err := env.Engine.ReclaimStale(env.Ctx, time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}
	got, _ := env.Engine.GetCase(env.Ctx, idle.ID)
	if got.AssignedAgentID != nil {
		t.Fatalf("idle claim should be released: %+v", got)
	}
	got, _ = env.Engine.GetCase(env.Ctx, busy.ID)
	if !got.AssignedTo(reviewB.ID) {
		t.Fatalf("recent claim should be kept: %+v", got)
	}
	hist, _ := env.Engine.History(env.Ctx, idle.ID)
	last := hist[len(hist)-1]
	if last.Action != domain.ActionReclaim || last.AgentID != engine.ReconcilerAgentID {
		t.Fatalf("unexpected reclaim entry: %+v", last)
	}
	if _, err := env.Engine.ReclaimStale(env.Ctx, 0); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("zero timeout should be rejected, got %v", err)
	}
}

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, engine.KindNone},
		{engine.ErrNotFound, engine.KindNotFound},
		{&engine.ConflictError{CaseID: "c"}, engine.KindAssignmentConflict},
		{&engine.PermissionError{CaseID: "c"}, engine.KindPermissionDenied},
		{&engine.TransitionError{CaseID: "c"}, engine.KindInvalidTransition},
		{engine.ErrStoreUnavailable, engine.KindStoreUnavailable},
		{errors.New("boom"), engine.KindInternal},
	}
	for _, tc := range cases {
		if got := engine.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v)=%s want %s", tc.err, got, tc.want)
		}
	}
}
