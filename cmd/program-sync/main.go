package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/noah-isme/sma-program-sync/internal/app"
	"github.com/noah-isme/sma-program-sync/internal/service"
	"github.com/noah-isme/sma-program-sync/pkg/config"
	appErrors "github.com/noah-isme/sma-program-sync/pkg/errors"
	"github.com/noah-isme/sma-program-sync/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "program-sync",
	Short:         "Program sync batch job",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(revertCmd(os.Stdin))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if status := appErrors.StatusOf(err); status >= 400 && status < 500 {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Sync.Run(ctx)
				if report != nil {
					if printErr := printRunReport(report); printErr != nil {
						return printErr
					}
				}
				return err
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored cursor and outstanding work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				status, err := a.Sync.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(status)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Item", "Value"})
				tw.AppendRow(table.Row{"last enrolment id", status.Cursor.LastEnrolmentID})
				tw.AppendRow(table.Row{"last grade check", formatUnix(status.Cursor.LastGradeCheck)})
				inactivity := "never"
				if status.Cursor.LastInactivityCheck != nil {
					inactivity = status.Cursor.LastInactivityCheck.Format(time.RFC3339)
				}
				tw.AppendRow(table.Row{"last inactivity check", inactivity})
				tw.AppendSeparator()
				tw.AppendRow(table.Row{"pending events", status.Pending.Events})
				tw.AppendRow(table.Row{"pending encapsulations", status.Pending.Encapsulations})
				tw.AppendRow(table.Row{"pending convalidations", status.Pending.Convalidations})
				tw.AppendRow(table.Row{"pending intensive messages", status.Pending.IntensiveMessages})
				tw.AppendRow(table.Row{"pending master messages", status.Pending.MasterMessages})
				tw.AppendRow(table.Row{"queued messages", status.Pending.QueuedMessages})
				tw.AppendRow(table.Row{"failed messages", status.Pending.FailedMessages})
				tw.Render()
				return nil
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				applied, err := a.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("applied %d migration(s)\n", applied)
				return nil
			})
		},
	}
}

func revertCmd(in io.Reader) *cobra.Command {
	var (
		categoryID int64
		since      string
		username   string
		yes        bool
	)
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Delete and re-derive program data for a category",
		Long: "Deletes the calendar events, queued messages, masters and enrolments derived for the\n" +
			"category's students enrolled since the given date, then re-ingests their enrolments.\n" +
			"The command asks for the category id again before changing anything unless --yes is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				from, err := parseSince(since, a.Location)
				if err != nil {
					return err
				}
				req := service.RevertRequest{CategoryID: categoryID, Since: from, Username: strings.TrimSpace(username)}
				if err := a.Revert.Validate(req); err != nil {
					return err
				}
				if !yes && !confirm(in, req) {
					return appErrors.Clone(appErrors.ErrConfirmationInvalid, "revert aborted")
				}
				result, err := a.Revert.Revert(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Users", "Events", "Messages", "Masters", "Enrolments deleted", "Enrolments created"})
				tw.AppendRow(table.Row{len(result.Users), result.EventsDeleted, result.MessagesDeleted, result.MastersDeleted, result.EnrolmentsDeleted, result.EnrolmentsCreated})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&categoryID, "category", 0, "top-level category id")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&username, "user", "", "limit the revert to one username")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("since")
	return cmd
}

func confirm(in io.Reader, req service.RevertRequest) bool {
	scope := "all students"
	if req.Username != "" {
		scope = "user " + req.Username
	}
	fmt.Printf("Revert category %d for %s enrolled since %s.\n", req.CategoryID, scope, req.Since.Format(time.RFC3339))
	fmt.Print("Type the category id to confirm: ")
	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return false
	}
	return strings.TrimSpace(scanner.Text()) == fmt.Sprint(req.CategoryID)
}

func parseSince(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q", raw)
	}
	return t, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logr.Sync() //nolint:errcheck

	a, err := app.New(ctx, cfg, logr)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printRunReport(report *service.RunReport) error {
	if viper.GetBool("json") {
		return printJSON(report)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle("run " + report.RunID)
	tw.AppendHeader(table.Row{"Stage", "Items", "Duration"})
	for _, st := range report.Stages {
		tw.AppendRow(table.Row{st.Name, st.Items, st.Duration.Round(time.Millisecond)})
	}
	tw.AppendFooter(table.Row{"dispatch", fmt.Sprintf("%d sent / %d failed / %d skipped", report.Dispatch.Sent, report.Dispatch.Failed, report.Dispatch.Skipped), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)})
	tw.Render()
	if report.Error != "" {
		fmt.Println("run failed:", report.Error)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
