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

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"groupsync/internal/app"
	"groupsync/internal/config"
	"groupsync/internal/db"
	"groupsync/internal/repo"
	"groupsync/internal/server"
	groupsyncsdk "groupsync/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "gs",
	Short: "GroupSync CLI",
	Long: `GroupSync turns a project brief into a weekly plan for a small team and
tracks it with weekly check-ins.
Core concepts:
- Project: one active project per server, moving EMPTY -> SCOPED -> TEAM_ASSIGNED -> PLANNED -> ACTIVE.
- Tasks: extracted from a brief or document, with estimates and dependencies.
- Team: members with skills and weekly hours; tasks are matched by skill and capacity.
- Plan: tasks laid out week by week before the deadline; overloads are flagged, never dropped.
- Check-ins: weekly percent-complete reports per member and task.
- Risk snapshots: per-week comparison of reported against expected progress, with corrective actions.
- Run log: every action with its outcome; journaled to .groupsync/journal.db, view with 'gs log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GROUPSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "GroupSync server URL")
	rootCmd.PersistentFlags().String("base-path", "/v0", "API base path")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the server")
	rootCmd.PersistentFlags().String("actor-id", "", "actor identifier sent when no token is set")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("base-path", rootCmd.PersistentFlags().Lookup("base-path"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(checkinCmd())
	rootCmd.AddCommand(weekCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(runlogCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the GroupSync API. Webhooks from groupsync.yml are dispatched from the journal while the server runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.Open(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config
			if addr == "" {
				addr = cfg.Server.Addr
			}
			basePath := cfg.Server.BasePath
			if cmd.Flags().Changed("base-path") {
				basePath = viper.GetString("base-path")
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				secret = cfg.Server.JWTSecret
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Repo:     a.Repo,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, AllowActorHeader: viper.GetBool("allow-actor-header")},
				Logger:   a.Logger,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if len(cfg.Webhooks) > 0 {
				if a.Repo == nil {
					a.Logger.Warn("webhooks configured but the journal is disabled; no deliveries will be made")
				} else {
					d := server.NewWebhookDispatcher(*a.Repo, cfg.Webhooks, a.Logger)
					g.Go(func() error { return d.Run(gctx) })
				}
			}
			a.Logger.WithField("auth", secret != "").Infof("serving GroupSync API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", addr, basePath, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret; when set every request needs a bearer token")
	cmd.Flags().Bool("allow-actor-header", false, "accept X-Actor-Id without a token when a JWT secret is set")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("allow-actor-header", cmd.Flags().Lookup("allow-actor-header"))
	return cmd
}

func projectCmd() *cobra.Command {
	project := &cobra.Command{
		Use:   "project",
		Short: "Scope, staff and inspect the project",
	}
	project.AddCommand(projectInitCmd())
	project.AddCommand(projectTeamCmd())
	project.AddCommand(projectStateCmd())
	project.AddCommand(projectResetCmd())
	return project
}

func projectInitCmd() *cobra.Command {
	var title, deadline, brief, file, mimeType string
	var reset bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Extract tasks from a brief and scope the project",
		Long:  "Send a brief (--brief text or --file document) and a deadline. Use --reset to replace an existing project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := groupsyncsdk.InitRequest{Title: title, Deadline: deadline, BriefText: brief, MimeType: mimeType}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				req.FileBytes = data
				if req.MimeType == "" {
					req.MimeType = mimeFromPath(file)
				}
			}
			if req.BriefText == "" && len(req.FileBytes) == 0 {
				return fmt.Errorf("--brief or --file required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				res, err := c.InitProject(ctx, req, reset)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Project: %s (deadline %s, started %s)\n", res.Project.Title, res.Project.Deadline, res.Project.StartDate)
				printTasks(res.Tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&brief, "brief", "", "brief text")
	cmd.Flags().StringVar(&file, "file", "", "brief document (text, markdown or YAML)")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "document MIME type (guessed from the extension)")
	cmd.Flags().BoolVar(&reset, "reset", false, "discard the current project first")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func projectTeamCmd() *cobra.Command {
	var file string
	var members []string
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Set the roster and build the weekly plan",
		Long: `Members come from a YAML file (--file) or repeated --member flags.
--member takes "name:hours" or "name:hours:skill1,skill2".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var team []groupsyncsdk.TeamMember
			if file != "" {
				loaded, err := loadTeamFile(file)
				if err != nil {
					return err
				}
				team = append(team, loaded...)
			}
			for _, raw := range members {
				m, err := parseMemberFlag(raw)
				if err != nil {
					return err
				}
				team = append(team, m)
			}
			if len(team) == 0 {
				return fmt.Errorf("--file or --member required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				res, err := c.SetTeam(ctx, team)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printTasks(res.Tasks)
				printPlan(res.WeeklyPlan)
				printIssues(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "team YAML file")
	cmd.Flags().StringArrayVar(&members, "member", nil, "team member as name:hours[:skills]")
	return cmd
}

func projectStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the project state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				st, err := c.State(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Phase: %s (version %d)\n", st.Phase, st.Version)
				if st.Phase == "EMPTY" {
					return nil
				}
				fmt.Printf("Project: %s (deadline %s)\n", st.Project.Title, st.Project.Deadline)
				printTasks(st.Tasks)
				if len(st.Plan) > 0 {
					printPlan(st.Plan)
				}
				fmt.Printf("Check-ins: %d, snapshots: %d\n", len(st.CheckIns), len(st.RiskSnapshots))
				return nil
			})
		},
	}
}

func projectResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				st, err := c.Reset(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Println("project reset")
				return nil
			})
		},
	}
}

func checkinCmd() *cobra.Command {
	checkin := &cobra.Command{
		Use:   "checkin",
		Short: "Weekly progress check-ins",
	}
	checkin.AddCommand(checkinSubmitCmd())
	return checkin
}

func checkinSubmitCmd() *cobra.Command {
	var week int
	var file, member, task, blocker string
	var percent float64
	var recompute bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit check-ins for a week",
		Long:  "Submit a batch from a YAML file (--file) or a single check-in via --member/--task/--percent. Each item is accepted or rejected on its own.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []groupsyncsdk.CheckIn
			if file != "" {
				loaded, err := loadCheckInFile(file)
				if err != nil {
					return err
				}
				items = append(items, loaded...)
			}
			if member != "" || task != "" {
				items = append(items, groupsyncsdk.CheckIn{MemberID: member, TaskID: task, PercentComplete: percent, Blocker: blocker})
			}
			if len(items) == 0 && !recompute {
				return fmt.Errorf("--file or --member/--task required")
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				res, err := c.SubmitCheckIns(ctx, week, items, recompute)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printCheckInResults(res)
				if res.Snapshot != nil {
					printSnapshot(*res.Snapshot)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&week, "week", 0, "week index (0-based)")
	cmd.Flags().StringVar(&file, "file", "", "check-ins YAML file")
	cmd.Flags().StringVar(&member, "member", "", "member id")
	cmd.Flags().StringVar(&task, "task", "", "task id")
	cmd.Flags().Float64Var(&percent, "percent", 0, "percent complete (0-100)")
	cmd.Flags().StringVar(&blocker, "blocker", "", "blocker description")
	cmd.Flags().BoolVar(&recompute, "recompute", false, "append a new snapshot revision for an analyzed week")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

func weekCmd() *cobra.Command {
	week := &cobra.Command{
		Use:   "week",
		Short: "Weekly risk snapshots",
	}
	week.AddCommand(&cobra.Command{
		Use:   "summary <week>",
		Short: "Show the latest risk snapshot for a week",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
				return fmt.Errorf("invalid week %q", args[0])
			}
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				snap, err := c.WeekSummary(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(snap)
				}
				printSnapshot(snap)
				return nil
			})
		},
	})
	return week
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	var member string
	reassign := &cobra.Command{
		Use:   "reassign <task-id>",
		Short: "Move a task to another member and rebuild the plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				res, err := c.ReassignTask(ctx, args[0], member)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				printPlan(res.WeeklyPlan)
				printIssues(res)
				return nil
			})
		},
	}
	reassign.Flags().StringVar(&member, "member", "", "member id")
	_ = reassign.MarkFlagRequired("member")
	task.AddCommand(reassign)
	return task
}

func runlogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runlog",
		Short: "Show the server's run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *groupsyncsdk.Client) error {
				logs, err := c.RunLogs(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(logs)
				}
				printRunLogs(logs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries (0 for all)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Journal",
		Long:  "Read the local run log journal in .groupsync/journal.db. Works while a server is running.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logStatsCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, outcome, actor string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail journaled entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				evts, err := r.ListEvents(ctx, repo.EventFilter{Type: evtType, Outcome: outcome, ActorID: actor, Limit: n})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				printEvents(evts)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&evtType, "type", "", "action filter")
	cmd.Flags().StringVar(&outcome, "outcome", "", "outcome filter (ok, error)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count journaled entries by outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				counts, err := r.CountByOutcome(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				for outcome, c := range counts {
					fmt.Printf("%s: %d\n", outcome, c)
				}
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect groupsync.yml",
		Long:  "Config covers the project defaults, extractor hours, store retries, risk thresholds, server, journal, logging and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default groupsync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate groupsync.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

// --- helpers ---

func withClient(ctx context.Context, fn func(context.Context, *groupsyncsdk.Client) error) error {
	c := groupsyncsdk.New(viper.GetString("server"))
	c.BasePath = viper.GetString("base-path")
	c.BearerToken = viper.GetString("token")
	c.ActorID = viper.GetString("actor-id")
	return fn(ctx, c)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	if _, err := os.Stat(db.Path(workspace)); err != nil {
		return fmt.Errorf("no journal at %s; run gs serve first", db.Path(workspace))
	}
	conn, err := app.OpenJournal(ctx, workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
