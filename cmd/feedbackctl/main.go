package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rxfeedback/internal/app"
	"rxfeedback/internal/config"
	"rxfeedback/pkg/db"
	"rxfeedback/services/kiosk"
	"rxfeedback/services/reports"
)

const serviceName = "feedbackctl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "feedbackctl",
		Short:         "Operator utility for the pharmacy feedback service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newReportsCommand())
	cmd.AddCommand(newAdminCommand())
	cmd.AddCommand(newKioskCommand())
	cmd.AddCommand(newEventsCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withApp loads configuration, wires the services and hands them to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, log zerolog.Logger) error) error {
	ctx := commandContext(cmd)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logger := cfg.Logger(serviceName)

	a, err := app.New(ctx, cfg, logger, app.Options{ClientName: serviceName})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, logger)
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			if err := db.Migrate(ctx, cfg.DBDSN); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			return db.MigrationStatus(ctx, cfg.DBDSN)
		},
	})
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale in-progress sessions as abandoned",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
				n, err := a.Sweeper.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "abandoned %d sessions\n", n)
				return nil
			})
		},
	}
}

func newReportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Monthly report operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var month string
	build := &cobra.Command{
		Use:   "build",
		Short: "Build the report for a month, the previous one by default",
		RunE: func(cmd *cobra.Command, args []string) error {
			period := reports.MonthOf(time.Now()).Previous()
			if month != "" {
				p, err := reports.ParseMonth(month)
				if err != nil {
					return fmt.Errorf("month must be YYYY-MM: %w", err)
				}
				period = p
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
				report, err := a.Reports.Build(ctx, period)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "report %s for %s: %d sessions\n", report.ID, period, report.Sessions)
				return nil
			})
		},
	}
	build.Flags().StringVar(&month, "month", "", "Month to report on (YYYY-MM)")

	cmd.AddCommand(build)
	return cmd
}

func newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrator account operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var email, name, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("ADMIN_PASSWORD")
			}
			if password == "" {
				return errors.New("--password or ADMIN_PASSWORD is required")
			}
			return withApp(cmd, func(ctx context.Context, a *app.App, _ zerolog.Logger) error {
				admin, err := a.Auth.CreateAdmin(ctx, email, name, password)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", admin.Email, admin.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "Login email")
	create.Flags().StringVar(&name, "name", "", "Display name")
	create.Flags().StringVar(&password, "password", "", "Password (defaults to ADMIN_PASSWORD)")
	_ = create.MarkFlagRequired("email")

	cmd.AddCommand(create)
	return cmd
}

func newKioskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Kiosk device operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		apiBaseURL   string
		identityFile string
		draftFile    string
		rating       int
		suggestion   string
	)
	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Walk one customer through the feedback screens against a running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			logger := config.NewLogger(os.Stderr, serviceName, "info", "console")

			client, err := kiosk.NewClient(apiBaseURL, nil)
			if err != nil {
				return err
			}
			identity, err := kiosk.LoadIdentity(identityFile, time.Now)
			if err != nil {
				return err
			}
			drafts, err := kiosk.NewFileDrafts(draftFile)
			if err != nil {
				return err
			}
			ctrl, err := kiosk.NewController(client, kiosk.ControllerConfig{
				Identity: identity,
				Drafts:   drafts,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			return simulateVisit(ctx, cmd, ctrl, rating, suggestion)
		},
	}
	simulate.Flags().StringVar(&apiBaseURL, "api", "", "Base URL of the feedback API (e.g. http://localhost:8080)")
	simulate.Flags().StringVar(&identityFile, "identity-file", "kiosk/identity.json", "Where the device identity is cached")
	simulate.Flags().StringVar(&draftFile, "draft-file", "kiosk/draft.json", "Where the in-progress draft is cached")
	simulate.Flags().IntVar(&rating, "rating", 5, "Pharmacy rating to submit")
	simulate.Flags().StringVar(&suggestion, "suggestion", "", "Suggestion text; empty skips the screen")
	_ = simulate.MarkFlagRequired("api")

	cmd.AddCommand(simulate)
	return cmd
}

// simulateVisit resumes any cached draft and submits every enabled screen
// until the kiosk returns to the first page.
func simulateVisit(ctx context.Context, cmd *cobra.Command, ctrl *kiosk.Controller, rating int, suggestion string) error {
	out := cmd.OutOrStdout()
	step, err := ctrl.Resume(ctx)
	if err != nil {
		return err
	}
	defer ctrl.Wait()

	for visited := false; ; {
		fmt.Fprintf(out, "screen: %s\n", step)
		current := step
		switch step {
		case kiosk.StepPharmacy:
			if visited {
				return nil
			}
			visited = true
			step, err = ctrl.SubmitPharmacy(ctx, rating)
		case kiosk.StepEmployees, kiosk.StepClient:
			step, err = ctrl.Skip(ctx)
		case kiosk.StepSuggestion:
			if suggestion == "" {
				step, err = ctrl.Skip(ctx)
			} else {
				step, err = ctrl.SubmitSuggestion(ctx, suggestion)
			}
		case kiosk.StepThankYou:
			step, err = ctrl.Finish(ctx)
		default:
			return fmt.Errorf("unexpected screen %q", step)
		}
		if err != nil {
			return fmt.Errorf("screen %s: %w", current, err)
		}
		if d := ctrl.Draft(); d.Started() {
			fmt.Fprintf(out, "session: %s\n", d.Record.ID)
		}
	}
}

func newEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Feedback event stream operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var subject string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print feedback events as they are published",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, log zerolog.Logger) error {
				if a.Bus == nil {
					return errors.New("NATS_URL is not configured or unreachable")
				}
				sub, err := a.Bus.Subscribe(ctx, subject, "", func(_ context.Context, subj string, data []byte) error {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", subj, data)
					return nil
				})
				if err != nil {
					return fmt.Errorf("subscribe %s: %w", subject, err)
				}
				defer sub.Close()

				log.Info().Str("subject", subject).Msg("watching events")
				<-ctx.Done()
				return nil
			})
		},
	}
	watch.Flags().StringVar(&subject, "subject", "feedback.>", "Subject filter")

	cmd.AddCommand(watch)
	return cmd
}
