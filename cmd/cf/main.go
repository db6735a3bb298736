package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caseflow/internal/app"
	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/history"
	"caseflow/internal/server"
	"caseflow/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cf",
	Short: "Caseflow CLI",
	Long: `Caseflow routes dossiers through an ordered list of stages.
- Stage: one step of the pipeline, edited by exactly one role.
- Claim: an agent takes an unassigned case at its stage; only one agent can win.
- Start, accept, reject, request-info: the assignee's work on a claimed case. Accept moves it to the next stage.
- Force: the override role rejects or asks for info from any stage, optionally sending the case back to intake.
- History: every change is appended to the case's history and never rewritten.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("db-driver", "sqlite", "store driver: sqlite or mysql")
	flags.String("db-dsn", "", "mysql DSN (ignored for sqlite)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	flags.Bool("json", false, "output JSON")
	flags.String("agent-id", "", "acting agent id")
	flags.String("role", "", "acting agent role")
	flags.String("jwt-secret", "", "HS256 secret for bearer tokens")
	for _, name := range []string{"workspace", "db-driver", "db-dsn", "log-level", "log-format", "json", "agent-id", "role", "jwt-secret"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func settings() app.Settings {
	return app.Settings{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
		LogLevel:  viper.GetString("log-level"),
		LogFormat: viper.GetString("log-format"),
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	env, err := app.Open(settings())
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env.Engine)
}

func currentAgent() (domain.Agent, error) {
	agent := domain.Agent{
		ID:   strings.TrimSpace(viper.GetString("agent-id")),
		Role: strings.TrimSpace(viper.GetString("role")),
	}
	if agent.ID == "" || agent.Role == "" {
		return domain.Agent{}, errors.New("--agent-id and --role (or CASEFLOW_AGENT_ID and CASEFLOW_ROLE) are required")
	}
	return agent, nil
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		devLogin       bool
		legacyHeaders  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := telemetry.Init(ctx, "caseflow", version); err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				telemetry.Shutdown(sctx)
			}()

			env, err := app.Open(settings())
			if err != nil {
				return err
			}
			defer env.Close()

			authCfg := server.AuthConfig{
				JWTSecret:          viper.GetString("jwt-secret"),
				AllowLegacyHeaders: legacyHeaders,
				DevLogin:           devLogin,
				Logger:             env.Logger,
			}
			if authCfg.JWTSecret == "" && !legacyHeaders {
				return errors.New("CASEFLOW_JWT_SECRET is required for bearer auth (or pass --allow-legacy-headers for local use)")
			}
			handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg, Logger: env.Logger})
			if err != nil {
				return err
			}

			if every := env.Config.ReconcileEvery(); every > 0 {
				go env.Engine.RunReconciler(ctx, every, env.Config.Assignment.ClaimTimeout)
				env.Logger.Info("stale claim reconciler running", "every", every, "timeout", env.Config.Assignment.ClaimTimeout)
			}
			if d := server.NewWebhookDispatcher(env.Engine, env.Logger); d != nil {
				go d.Run(ctx)
			}

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			env.Logger.Info("serving caseflow api", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", basePath+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	cmd.Flags().BoolVar(&legacyHeaders, "allow-legacy-headers", false, "trust X-Agent-Id/X-Agent-Role headers without credentials")
	return cmd
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{Use: "stage", Short: "Inspect the stage registry"}
	st.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stages in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(reg.Stages())
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"#", "Code", "Role", "Actions", "Description"})
			for _, s := range reg.Stages() {
				tw.AppendRow(table.Row{s.Index, s.Code, s.Role, strings.Join(s.Actions, ","), s.Description})
			}
			tw.AppendFooter(table.Row{"", "", "override: " + reg.OverrideRole()})
			tw.Render()
			return nil
		},
	})
	return st
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys bound to an agent and role"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --agent-id/--role; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				svc := auth.Service{Repo: e.Repo, Stages: e.Stages}
				raw, key, err := svc.CreateAPIKey(ctx, agent, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "agent_id": key.AgentID, "role": key.Role, "key": raw})
				}
				fmt.Printf("API key %s for %s (%s):\n%s\n", key.ID, key.AgentID, key.Role, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")

	var agentFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, agentFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					for i := range items {
						items[i].KeyHash = ""
					}
					return printJSON(nonNil(items))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Agent", "Role", "Name", "Created"})
				for _, k := range items {
					tw.AppendRow(table.Row{k.ID, k.AgentID, k.Role, k.Name, relative(k.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&agentFilter, "agent", "", "only keys of this agent")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	keys.AddCommand(create, list, revoke)
	return keys
}

func agentCmd() *cobra.Command {
	agents := &cobra.Command{Use: "agent", Short: "Agents seen by the store"}
	agents.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents with their last activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nonNil(items))
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Agent", "Role", "Last seen"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Role, relative(a.LastSeen)})
				}
				tw.Render()
				return nil
			})
		},
	})
	agents.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("%s (%s) first seen %s, last seen %s\n", a.ID, a.Role, relative(a.CreatedAt), relative(a.LastSeen))
				return nil
			})
		},
	})
	return agents
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --agent-id/--role using CASEFLOW_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			agent, err := currentAgent()
			if err != nil {
				return err
			}
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			if !(auth.Service{Stages: reg}).KnownRole(agent.Role) {
				return auth.UnknownRoleError{Role: agent.Role}
			}
			token, err := server.SignToken(viper.GetString("jwt-secret"), agent, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Release claims idle for longer than the claim timeout",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				limit := timeout
				if limit <= 0 {
					limit = e.Config.Assignment.ClaimTimeout
				}
				if limit <= 0 {
					return errors.New("no claim timeout: pass --timeout or set assignment.claim_timeout")
				}
				n, err := e.ReclaimStale(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"released": n})
				}
				fmt.Printf("released %d stale %s\n", n, plural(n, "claim", "claims"))
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "idle time after which a claim is released (defaults to config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage caseflow.yml"}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default caseflow.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate caseflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	cfgCmd.AddCommand(initCmd, validate)
	return cfgCmd
}

// --- helpers ---

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// relative renders a stored timestamp as "3 minutes ago".
func relative(ts string) string {
	for _, layout := range []string{history.TimeFormat, time.RFC3339Nano} {
		if t, err := time.Parse(layout, ts); err == nil {
			return humanize.Time(t)
		}
	}
	return ts
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// exitCode gives scripts a stable code per error kind.
func exitCode(err error) int {
	switch engine.Kind(err) {
	case engine.KindNotFound:
		return 3
	case engine.KindAssignmentConflict:
		return 4
	case engine.KindPermissionDenied:
		return 5
	case engine.KindInvalidTransition:
		return 6
	case engine.KindStoreUnavailable:
		return 7
	default:
		return 1
	}
}
