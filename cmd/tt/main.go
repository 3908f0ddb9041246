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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"teamtacles/internal/app"
	"teamtacles/internal/config"
	"teamtacles/internal/db"
	"teamtacles/internal/domain"
	"teamtacles/internal/engine"
	"teamtacles/internal/engine/auth"
	"teamtacles/internal/migrate"
	"teamtacles/internal/repo"
	"teamtacles/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Teamtacles CLI",
	Long: `Teamtacles is a multi-user project and task tracker.
- Users register themselves and hold exactly one role, USER or ADMIN.
- Projects have a creator and a team; only the creator or an admin may change them.
- Tasks live in a project, have an owner and a set of responsible users, and move between TODO, INPROGRESS and DONE.
- Every change is recorded in an event log; view it with 'tt log tail'.`,
	SilenceUsage: true,
}

// operator stands for whoever runs the CLI against the local database.
var operator = auth.Principal{Roles: []domain.RoleName{domain.RoleAdmin}}

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
	viper.SetEnvPrefix("TEAMTACLES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().String("jwt-secret", "", "token signing secret (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.Open(ctx, cfg, app.NewLogger(cfg, nil))
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: cfg.Server.BasePath, Logger: a.Log})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			a.Log.WithField("addr", cfg.Server.Addr).Infof("serving Teamtacles API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)", cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			a.Log.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Path: cfg.Database.Path})
			if err != nil {
				return err
			}
			defer conn.Close()
			version, err := migrate.MigrateContext(cmd.Context(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (%s)\n", version, cfg.Database.Path)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configShowCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Auth.JWTSecret != "" {
				shown.Auth.JWTSecret = "***"
			}
			if shown.Bootstrap.Admin.Password != "" {
				shown.Bootstrap.Admin.Password = "***"
			}
			if viper.GetBool("json") {
				return printJSON(shown)
			}
			out, err := yaml.Marshal(shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(userRegisterCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userRoleCmd())
	return cmd
}

func userRegisterCmd() *cobra.Command {
	var opts engine.RegisterOptions
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user with the USER role",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PasswordConfirm = opts.Password
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Register(ctx, opts)
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Username, "username", "", "username")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var page, size int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.ListUsers(ctx, operator, engine.NormalizePage(page, size))
				if err != nil {
					return err
				}
				if err := printUsers(res.Items); err != nil {
					return err
				}
				if !viper.GetBool("json") {
					fmt.Printf("page %d of %d, %d users\n", res.Page+1, res.TotalPages, res.TotalElements)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 0, "0-based page")
	cmd.Flags().IntVar(&size, "size", engine.DefaultPageSize, "page size")
	return cmd
}

func userRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <username> <USER|ADMIN>",
		Short: "Replace a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.Repo.GetUserByUsername(ctx, nil, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				if err != nil {
					return err
				}
				u, err = a.Engine.ExchangeRole(ctx, operator, u.ID, args[1])
				if err != nil {
					return err
				}
				return printUsers([]domain.User{u})
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Token helpers",
	}
	cmd.AddCommand(tokenIssueCmd())
	return cmd
}

func tokenIssueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "issue <username>",
		Short: "Issue a bearer token for a user without a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Config.RequireSecret(); err != nil {
					return err
				}
				u, err := a.Engine.Repo.GetUserByUsername(ctx, nil, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				if err != nil {
					return err
				}
				session, err := a.Engine.IssueToken(u)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": session.Token, "expires_at": session.ExpiresAt})
				}
				fmt.Println(session.Token)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.Repo.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range events {
					actor := ""
					if e.ActorID != 0 {
						actor = fmt.Sprint(e.ActorID)
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, fmt.Sprintf("%s/%d", e.EntityKind, e.EntityID), actor, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().Int64Var(&f.EntityID, "entity-id", 0, "entity id filter")
	cmd.Flags().Int64Var(&f.Before, "before", 0, "only events with a smaller id")
	return cmd
}

// --- helpers ---

// loadConfig reads the config file, falling back to defaults, and applies
// flag and TEAMTACLES_* environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg, app.NewLogger(cfg, nil))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printUsers(users []domain.User) error {
	if viper.GetBool("json") {
		return printJSON(users)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Username", "Email", "Roles", "Created"})
	for _, u := range users {
		roles := make([]string, 0, len(u.Roles))
		for _, r := range u.Roles {
			roles = append(roles, string(r.Name))
		}
		tw.AppendRow(table.Row{u.ID, u.Username, u.Email, strings.Join(roles, ","), u.CreatedAt})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
