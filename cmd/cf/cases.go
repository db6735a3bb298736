package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Work on cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseHistoryCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseActionCmd("claim", "Claim an unassigned case at its stage", false,
		func(e engine.Engine, ctx context.Context, id string, a domain.Agent, _ string) (domain.Case, error) {
			return e.Claim(ctx, id, a)
		}))
	c.AddCommand(caseActionCmd("release", "Release your claim (override role: any claim)", false,
		func(e engine.Engine, ctx context.Context, id string, a domain.Agent, _ string) (domain.Case, error) {
			return e.Release(ctx, id, a)
		}))
	c.AddCommand(caseActionCmd("start", "Start work on a claimed case", true, engine.Engine.Start))
	c.AddCommand(caseActionCmd("accept", "Accept and move the case to the next stage", true, engine.Engine.Accept))
	c.AddCommand(caseActionCmd("reject", "Reject the case at its stage", true, engine.Engine.Reject))
	c.AddCommand(caseActionCmd("request-info", "Ask the applicant for missing information", true, engine.Engine.RequestInfo))
	c.AddCommand(caseForceCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CreateCaseOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case at the first stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, agent, opts)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "case id (generated when empty)")
	cmd.Flags().StringVar(&opts.Reference, "reference", "", "external dossier reference")
	cmd.Flags().StringVar(&opts.Applicant, "applicant", "", "applicant name")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note recorded in history")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
}

func caseHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a case's history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.History(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "When", "Stage", "Status", "Action", "Agent", "Note"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.ID, relative(h.TS), h.Stage, h.Status, h.Action, h.AgentID, h.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseListCmd() *cobra.Command {
	var q engine.CaseQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases across stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListCases(ctx, q)
				if err != nil {
					return err
				}
				return printPage(page)
			})
		},
	}
	cmd.Flags().StringVar(&q.Stage, "stage", "", "stage filter")
	cmd.Flags().StringVar(&q.Status, "status", "", "status filter")
	cmd.Flags().BoolVar(&q.IncludeCompleted, "all", false, "include completed cases")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.Size, "size", 0, "page size")
	return cmd
}

// caseAction has the shape of method expressions such as engine.Engine.Start.
type caseAction func(e engine.Engine, ctx context.Context, id string, agent domain.Agent, note string) (domain.Case, error)

func caseActionCmd(use, short string, withNote bool, run caseAction) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := run(e, ctx, args[0], agent, note)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	if withNote {
		cmd.Flags().StringVar(&note, "note", "", "note recorded in history")
	}
	return cmd
}

func caseForceCmd() *cobra.Command {
	var opts engine.ForceOptions
	cmd := &cobra.Command{
		Use:   "force <id>",
		Short: "Override: force reject or request info from any stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Force(ctx, args[0], agent, opts)
				if err != nil {
					return err
				}
				return printCase(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Action, "action", "reject", "reject or request_info")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note recorded in history")
	cmd.Flags().BoolVar(&opts.ResetToIntake, "reset", false, "send the case back to the first stage")
	return cmd
}

func queueCmd() *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Work queues"}

	var stage string
	var page, size int
	unassigned := &cobra.Command{
		Use:   "unassigned",
		Short: "Open unassigned cases at a stage (defaults to your role's stage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := stage
				if target == "" {
					st, ok := e.Stages.StageForRole(viper.GetString("role"))
					if !ok {
						return fmt.Errorf("--stage required: role %q edits no stage", viper.GetString("role"))
					}
					target = st.Code
				}
				p, err := e.ListUnassigned(ctx, target, page, size)
				if err != nil {
					return err
				}
				return printPage(p)
			})
		},
	}
	unassigned.Flags().StringVar(&stage, "stage", "", "stage code")
	unassigned.Flags().IntVar(&page, "page", 1, "page number")
	unassigned.Flags().IntVar(&size, "size", 0, "page size")

	var agentID string
	var apage, asize int
	assigned := &cobra.Command{
		Use:   "assigned",
		Short: "Open cases held by an agent (defaults to --agent-id)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target := agentID
				if target == "" {
					target = viper.GetString("agent-id")
				}
				p, err := e.ListAssignedTo(ctx, target, apage, asize)
				if err != nil {
					return err
				}
				return printPage(p)
			})
		},
	}
	assigned.Flags().StringVar(&agentID, "agent", "", "agent id")
	assigned.Flags().IntVar(&apage, "page", 1, "page number")
	assigned.Flags().IntVar(&asize, "size", 0, "page size")

	q.AddCommand(unassigned, assigned)
	return q
}

func printCase(c domain.Case) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", c.ID},
		{"Reference", c.Reference},
		{"Applicant", c.Applicant},
		{"Stage", c.CurrentStage},
		{"Status", c.Status},
		{"Assigned to", c.Assignee()},
		{"Version", c.Version},
		{"Created", relative(c.CreatedAt)},
		{"Updated", relative(c.UpdatedAt)},
	})
	if c.CompletedAt != nil {
		tw.AppendRow(table.Row{"Completed", relative(*c.CompletedAt)})
	}
	tw.Render()
	return nil
}

func printPage(p domain.Page) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Reference", "Stage", "Status", "Assigned", "Created"})
	for _, c := range p.Items {
		tw.AppendRow(table.Row{c.ID, c.Reference, c.CurrentStage, c.Status, c.Assignee(), relative(c.CreatedAt)})
	}
	tw.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("page %d", p.Page), fmt.Sprintf("%d total", p.Total)})
	tw.Render()
	return nil
}
