package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"tandem/internal/config"
	"tandem/internal/db"
	"tandem/internal/domain"
	"tandem/internal/engine"
	"tandem/internal/logger"
	"tandem/internal/migrate"
	"tandem/internal/push"
	"tandem/internal/repo"
	"tandem/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tandem",
	Short: "Tandem proactive engine",
	Long: `Tandem watches a two-person household's tasks, assignments, schedule and
mood history, turns qualifying signals into events, and decides under a
rate-limiting, fatigue-aware policy whether each one may interrupt anyone.

An external scheduler calls 'tandem pass run' at whatever cadence it likes;
passes are idempotent and safe to overlap.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TANDEM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("env", "development", "environment (development|production)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("env", rootCmd.PersistentFlags().Lookup("env"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(passCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(seedCmd())
}

type appEnv struct {
	Log     *zap.Logger
	Watcher *config.Watcher
	Engine  func() engine.Engine
	Close   func()
}

func openApp() (*appEnv, error) {
	workspace := viper.GetString("workspace")
	log, err := logger.New(viper.GetString("env"))
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		return nil, err
	}
	watcher, err := config.NewWatcher(workspace, log)
	if err != nil {
		return nil, err
	}
	if secret := viper.GetString("token-secret"); secret != "" {
		watcher.Current().Push.TokenSecret = secret
	}
	eng := func() engine.Engine {
		cfg := watcher.Current()
		var sender push.Deliverer = push.NopSender{}
		if cfg.Push.Endpoint != "" {
			sender = push.NewHTTPSender(cfg.Push.Endpoint, cfg.Push.Subject)
		}
		return engine.New(conn, cfg, log, sender)
	}
	return &appEnv{
		Log:     log,
		Watcher: watcher,
		Engine:  eng,
		Close: func() {
			_ = watcher.Close()
			_ = conn.Close()
			_ = log.Sync()
		},
	}, nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default tandem.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrated", db.Path(viper.GetString("workspace")))
			return nil
		},
	}
}

func passCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Engine passes",
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run one engine pass (the scheduler entry point)",
		RunE: func(c *cobra.Command, args []string) error {
			dryRun, _ := c.Flags().GetBool("dry-run")
			atFlag, _ := c.Flags().GetString("at")
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			at := time.Now()
			if atFlag != "" {
				parsed, err := time.Parse(time.RFC3339, atFlag)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				at = parsed
			}
			report, err := app.Engine().RunPass(context.Background(), at, !dryRun)
			if err != nil {
				return err
			}
			printPassReport(report)
			return nil
		},
	}
	run.Flags().Bool("dry-run", false, "collect and emit events but skip admission and delivery")
	run.Flags().String("at", "", "RFC3339 instant to run the pass at (defaults to now)")
	cmd.AddCommand(run)
	return cmd
}

func printPassReport(report engine.PassReport) {
	if viper.GetBool("json") {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("window %s hour %02d (bucket %s), users %d, delivered %d\n",
		report.Window.LocalDate, report.Window.Hour, report.Window.HourBucket,
		report.UsersProcessed, report.Delivered)
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"collector", "emitted", "duplicates", "errors"})
	names := make([]string, 0, len(report.Stats))
	for name := range report.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := report.Stats[name]
		t.AppendRow(table.Row{name, s.Emitted, s.Duplicates, s.Errors})
	}
	t.Render()
	if len(report.Denied) > 0 {
		fmt.Print("denied:")
		reasons := make([]string, 0, len(report.Denied))
		for reason := range report.Denied {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf(" %s=%d", reason, report.Denied[reason])
		}
		fmt.Println()
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the events feed and activity API",
		RunE: func(c *cobra.Command, args []string) error {
			addr, _ := c.Flags().GetString("addr")
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			handler, err := server.New(server.Config{Engine: app.Engine})
			if err != nil {
				return err
			}
			app.Log.Info("serving", zap.String("addr", addr))
			return http.ListenAndServe(addr, handler)
		},
	}
	cmd.Flags().String("addr", ":8090", "listen address")
	return cmd
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the proactive event feed",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events for a user",
		RunE: func(c *cobra.Command, args []string) error {
			userID, _ := c.Flags().GetString("user")
			limit, _ := c.Flags().GetInt("limit")
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			items, _, err := app.Engine().Repo.LatestProactiveEvents(context.Background(), userID, limit, 0)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				data, _ := json.MarshalIndent(items, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"created", "type", "level", "delivered", "title"})
			for _, ev := range items {
				t.AppendRow(table.Row{ev.CreatedAt.Format(time.RFC3339), ev.EventType, ev.Level, ev.Delivered, ev.Title})
			}
			t.Render()
			return nil
		},
	}
	tail.Flags().String("user", "", "user id")
	tail.Flags().Int("limit", 20, "max events")
	cmd.AddCommand(tail)
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo household",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			ctx := context.Background()
			r := app.Engine().Repo
			if err := seedHousehold(ctx, r); err != nil {
				return err
			}
			fmt.Println("seeded demo household: users zaldy, nesya")
			return nil
		},
	}
}

func seedHousehold(ctx context.Context, r repo.Repo) error {
	now := time.Now()
	zaldyPartner, nesyaPartner := "nesya", "zaldy"
	users := []domain.User{
		{ID: "zaldy", Name: "Zaldy", PartnerID: &zaldyPartner, Active: true},
		{ID: "nesya", Name: "Nesya", PartnerID: &nesyaPartner, Active: true},
	}
	for _, u := range users {
		if err := r.InsertUser(ctx, u); err != nil {
			return err
		}
	}
	deadline := func(d time.Duration) *time.Time {
		t := now.Add(d)
		return &t
	}
	items := []struct {
		item     domain.WorkItem
		assigned string
	}{
		{domain.WorkItem{ID: uuid.NewString(), Kind: "task", Title: "Pay electricity bill", Deadline: deadline(20 * time.Minute), Priority: "high", Status: "pending"}, "zaldy"},
		{domain.WorkItem{ID: uuid.NewString(), Kind: "task", Title: "Grocery run", Deadline: deadline(26 * time.Hour), Priority: "medium", Status: "pending"}, "zaldy"},
		{domain.WorkItem{ID: uuid.NewString(), Kind: "assignment", Title: "Statistics problem set", Deadline: deadline(40 * time.Hour), Priority: "high", Status: "pending"}, "nesya"},
		{domain.WorkItem{ID: uuid.NewString(), Kind: "task", Title: "Water the plants", Deadline: nil, Priority: "low", Status: "pending"}, "nesya"},
	}
	for _, entry := range items {
		if err := r.InsertWorkItem(ctx, entry.item, entry.assigned, entry.assigned, now); err != nil {
			return err
		}
	}
	for i := 0; i < 5; i++ {
		if err := r.InsertMood(ctx, domain.MoodEntry{
			ID: uuid.NewString(), UserID: "nesya", Mood: 3.5 - float64(i)*0.3,
			CreatedAt: now.Add(-time.Duration(i*20) * time.Hour),
		}); err != nil {
			return err
		}
	}
	return r.InsertScheduleBlock(ctx, domain.ScheduleBlock{
		ID: uuid.NewString(), UserID: "nesya", Title: "Linear Algebra lecture",
		Weekday: 1, StartMinute: 9 * 60, EndMinute: 10*60 + 30,
	})
}
