package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hometrack/internal/app"
	"hometrack/internal/detect"
	"hometrack/internal/domain"
	"hometrack/internal/engine"
	"hometrack/internal/graph"
	"hometrack/internal/lifecycle"
	"hometrack/internal/repo"
	"hometrack/internal/server"
	"hometrack/internal/validate"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create hometrack.yml and an empty project document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				created, err := s.Init(ctx)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("Initialized %s\n", s.DocumentPath())
				} else {
					fmt.Printf("%s already exists\n", s.DocumentPath())
				}
				return nil
			})
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the project document for errors and warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(_ context.Context, s *app.Session) error {
				report, err := s.Validate()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(report); err != nil {
						return err
					}
				} else {
					for _, e := range report.Errors {
						fmt.Println("error:", e)
					}
					for _, w := range report.Warnings {
						fmt.Println("warning:", w)
					}
				}
				if !report.OK() {
					return fmt.Errorf("%d validation errors", len(report.Errors))
				}
				if !viper.GetBool("json") {
					fmt.Println("ok")
				}
				return nil
			})
		},
	}
}

func vendorCmd() *cobra.Command {
	v := &cobra.Command{Use: "vendor", Short: "Inspect vendors"}
	v.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List vendors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				if viper.GetBool("json") {
					return printJSON(doc.Vendors)
				}
				tw := newTable("ID", "Name", "Trade", "Type", "Tasks")
				for _, vd := range doc.Vendors {
					tw.AppendRow([]any{vd.ID, vd.Name, vd.Trade, vd.Type, len(graph.FindTasksByVendor(doc, vd.ID))})
				}
				tw.Render()
				return nil
			})
		},
	})
	v.AddCommand(&cobra.Command{
		Use:   "tasks <vendor-id>",
		Short: "List tasks assigned to a vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDocument(cmd.Context(), func(_ *app.Session, doc *domain.Document) error {
				tasks := graph.FindTasksByVendor(doc, args[0])
				if viper.GetBool("json") {
					out := make([]domain.Task, 0, len(tasks))
					for _, t := range tasks {
						out = append(out, *t)
					}
					return printJSON(out)
				}
				tw := newTable("ID", "Name", "Status", "Dates")
				for _, t := range tasks {
					tw.AppendRow([]any{t.ID, t.Name, t.Status, dateRange(t.Start, t.End)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return v
}

func detectCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run detection rules and raise or resolve questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var asOf time.Time
			if date != "" {
				d, err := time.Parse(validate.DateLayout, date)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				asOf = d
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				res, err := s.DetectAsOf(ctx, asOf)
				if err != nil {
					return err
				}
				return printDetection(res)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "reference date (YYYY-MM-DD, default today)")
	cmd.AddCommand(detectRunsCmd())
	return cmd
}

func printDetection(res detect.Result) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("created %d, resolved %d, refreshed %d\n", res.Created, res.Resolved, res.Refreshed)
	for _, id := range res.CreatedIDs {
		fmt.Println("  +", id)
	}
	for _, id := range res.ResolvedIDs {
		fmt.Println("  -", id)
	}
	return nil
}

func detectRunsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recent detection runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				runs, err := s.Repo().ListDetectionRuns(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := newTable("ID", "When", "As of", "Created", "Resolved", "Refreshed", "Actor")
				for _, r := range runs {
					tw.AppendRow([]any{r.ID, r.TS, r.ReferenceDate, r.Created, r.Resolved, r.Refreshed, r.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of runs")
	return cmd
}

func materialsCmd() *cobra.Command {
	m := &cobra.Command{Use: "materials", Short: "Material lifecycle"}
	m.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Ask the next lifecycle question for each material",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res lifecycle.CheckResult
			err := mutate(cmd.Context(), func(eng engine.Engine, doc *domain.Document) error {
				res = eng.CheckMaterials(doc)
				return nil
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("created %d questions\n", res.Created)
			for _, id := range res.CreatedIDs {
				fmt.Println("  +", id)
			}
			return nil
		},
	})
	return m
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	l.AddCommand(logTailCmd())
	l.AddCommand(logShowCmd())
	return l
}

func logShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Show one event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid event id %q", args[0])
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				evt, err := s.Repo().GetEvent(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrIndented(evt)
			})
		},
	}
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				evts, err := s.Repo().LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if follow {
					return followEvents(ctx, s, f, evts)
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "When", "Type", "Entity", "Actor", "Payload")
				for _, e := range evts {
					tw.AppendRow([]any{e.ID, e.TS, e.Type, eventEntity(e), e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func eventEntity(e domain.Event) string {
	if e.EntityID == "" {
		return e.EntityKind
	}
	return e.EntityKind + " " + e.EntityID
}

func printEventLine(e domain.Event) {
	fmt.Printf("%d %s %-18s %-22s %s %s\n", e.ID, e.TS, e.Type, eventEntity(e), e.ActorID, e.Payload)
}

// followEvents prints the initial page oldest first, then polls for events
// appended by other processes until ctx is done.
func followEvents(ctx context.Context, s *app.Session, f repo.EventFilters, initial []domain.Event) error {
	for i := len(initial) - 1; i >= 0; i-- {
		printEventLine(initial[i])
	}
	last, err := s.Repo().LatestEventID(ctx)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		latest, err := s.Repo().LatestEventID(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if latest <= last {
			continue
		}
		page := f
		page.Cursor = latest + 1
		page.Limit = int(latest - last)
		evts, err := s.Repo().LatestEvents(ctx, page)
		if err != nil {
			return err
		}
		for i := len(evts) - 1; i >= 0; i-- {
			if evts[i].ID > last {
				printEventLine(evts[i])
			}
		}
		last = latest
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withSession(ctx, func(ctx context.Context, s *app.Session) error {
				if addr == "" {
					addr = s.Config.Server.Addr
				}
				if basePath == "" {
					basePath = s.Config.Server.BasePath
				}
				secret := viper.GetString("jwt-secret")
				if secret == "" {
					secret = s.Config.Server.JWTSecret
				}
				if secret == "" {
					s.Logger.Warn("no JWT secret configured; mutating endpoints are open")
				}
				handler, err := server.New(server.Config{
					Session:  s,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: secret},
					Logger:   s.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				s.Logger.Info("serving hometrack API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("config"))
				if err != nil {
					return err
				}
				secret = cfg.Server.JWTSecret
			}
			if subject == "" {
				subject = viper.GetString("actor-id")
			}
			if subject == "" {
				subject = string(domain.PersonOwner)
			}
			token, err := server.SignToken(secret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id carried by the token (default --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for none")
	return cmd
}
