package app

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

func TestOpenUsesWorkspaceConfig(t *testing.T) {
	workspace := t.TempDir()
	yml := `override_role: supervisor
stages:
  - code: FRONT
    role: front_desk
  - code: BACK
    role: back_office
`
	if err := os.WriteFile(config.Path(workspace), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var logs bytes.Buffer
	env, err := Open(Settings{Workspace: workspace, LogLevel: "debug", LogFormat: "json", LogOutput: &logs})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()

	if got := env.Engine.Stages.First().Code; got != "FRONT" {
		t.Fatalf("expected FRONT as first stage, got %s", got)
	}
	c, err := env.Engine.CreateCase(context.Background(), domain.Agent{ID: "desk-1", Role: "front_desk"}, engine.CreateCaseOptions{Reference: "R1"})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if c.CurrentStage != "FRONT" {
		t.Fatalf("unexpected stage %s", c.CurrentStage)
	}
	if !strings.Contains(logs.String(), "case created") {
		t.Fatalf("expected engine logs in output, got %q", logs.String())
	}
}

func TestOpenRejectsBadLogFormat(t *testing.T) {
	if _, err := Open(Settings{Workspace: t.TempDir(), LogFormat: "xml"}); err == nil {
		t.Fatalf("expected error for unknown log format")
	}
}
