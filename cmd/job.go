package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/class-scheduler/internal/booking"
	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/timerule"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage booking jobs (non-UI)",
	}
	cmd.AddCommand(newJobCreateCmd())
	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobStatusCmd())
	cmd.AddCommand(newJobCancelCmd())
	cmd.AddCommand(newJobAutoCancelCmd())
	return cmd
}

func newJobCreateCmd() *cobra.Command {
	var (
		userID  string
		req     booking.Request
		offDays uint
		offHrs  uint
		offMins uint
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking job for one class session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if cmd.Flags().Changed("offset-days") || cmd.Flags().Changed("offset-hours") || cmd.Flags().Changed("offset-minutes") {
				req.Offset = &timerule.Offset{Days: offDays, Hours: offHrs, Minutes: offMins}
			}
			res, err := a.booking().Book(ctx, userID, req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created job id=%s dispatch_utc=%s opening_utc=%s\n",
				res.JobID, res.DispatchTime.Format(time.RFC3339), res.SessionOpeningTime.Format(time.RFC3339))
			if res.Degraded {
				fmt.Fprintf(out, "warning: %s\n", res.Warning)
			}
			return nil
		},
	}

	f := c.Flags()
	f.StringVar(&userID, "user-id", "", "owner user id")
	f.StringVar(&req.SessionID, "session-id", "", "provider session id")
	f.StringVar(&req.Title, "title", "", "class title")
	f.StringVar(&req.Subtitle, "subtitle", "", "class subtitle (may carry \"Skill Level: ...\")")
	f.StringVar(&req.Day, "day", "", "weekday name shown with the session")
	f.StringVar(&req.Date, "date", "", "session date YYYY-MM-DD or M/D/YYYY")
	f.IntVar(&req.DayOfMonth, "day-of-month", 0, "day of month when the full date is unknown")
	f.StringVar(&req.StartTime, "start-time", "", "start time, e.g. \"7:00 AM\"")
	f.StringVar(&req.Location, "location", "", "studio or court")
	f.StringVar(&req.PrimaryName, "primary-name", "", "override the primary participant")
	f.StringVar(&req.SecondaryName, "secondary-name", "", "override the second participant")
	f.UintVar(&offDays, "offset-days", 0, "dispatch offset days (overrides config)")
	f.UintVar(&offHrs, "offset-hours", 0, "dispatch offset hours (overrides config)")
	f.UintVar(&offMins, "offset-minutes", 0, "dispatch offset minutes (overrides config)")

	_ = c.MarkFlagRequired("user-id")
	_ = c.MarkFlagRequired("session-id")
	_ = c.MarkFlagRequired("start-time")
	return c
}

func newJobListCmd() *cobra.Command {
	var userID string
	c := &cobra.Command{
		Use:   "list",
		Short: "List jobs for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{jobsOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			sts, err := a.resolver().List(ctx, userID)
			if err != nil {
				return err
			}
			for _, st := range sts {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%s session=%s status=%s dispatch=%s degraded=%t\n",
					st.JobID, st.SessionID, st.Phase, st.Job.DispatchTime.Format(time.RFC3339), st.Degraded)
			}
			return nil
		},
	}
	c.Flags().StringVar(&userID, "user-id", "", "user id")
	_ = c.MarkFlagRequired("user-id")
	return c
}

func newJobStatusCmd() *cobra.Command {
	var userID, jobID string
	c := &cobra.Command{
		Use:   "status [SESSION_ID...]",
		Short: "Show the status of one or more sessions' jobs, or of one job by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobID == "" && len(args) == 0 {
				return fmt.Errorf("give session ids with --user-id, or --job-id")
			}
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{jobsOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.resolver()
			switch {
			case jobID != "":
				st, err := r.ResolveJob(ctx, jobID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			case len(args) == 1:
				st, err := r.Resolve(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), st)
			}
			return printJSON(cmd.OutOrStdout(), r.ResolveBatch(ctx, userID, args))
		},
	}
	c.Flags().StringVar(&userID, "user-id", "", "user id")
	c.Flags().StringVar(&jobID, "job-id", "", "look up a job by id regardless of owner")
	c.MarkFlagsOneRequired("user-id", "job-id")
	c.MarkFlagsMutuallyExclusive("user-id", "job-id")
	return c
}

func newJobCancelCmd() *cobra.Command {
	var userID string
	c := &cobra.Command{
		Use:   "cancel SESSION_ID",
		Short: "Cancel a session's job and its backend task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			out, err := a.canceller().Cancel(ctx, userID, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	c.Flags().StringVar(&userID, "user-id", "", "user id")
	_ = c.MarkFlagRequired("user-id")
	return c
}

func newJobAutoCancelCmd() *cobra.Command {
	var userID, file string
	c := &cobra.Command{
		Use:   "auto-cancel",
		Short: "Apply the unconfirmed morning drill rule to a JSON list of sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var sessions []dispatch.Session
			if err := json.NewDecoder(r).Decode(&sessions); err != nil {
				return fmt.Errorf("decode sessions: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			return printJSON(cmd.OutOrStdout(), a.autoCanceller().Run(ctx, userID, sessions))
		},
	}
	c.Flags().StringVar(&userID, "user-id", "", "user id")
	c.Flags().StringVar(&file, "file", "-", "JSON array of sessions ({id,title,date,startTime,confirmed}); - reads stdin")
	_ = c.MarkFlagRequired("user-id")
	return c
}
