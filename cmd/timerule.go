package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/class-scheduler/internal/config"
	"github.com/example/class-scheduler/internal/timerule"
)

func newTimeRuleCmd() *cobra.Command {
	var (
		date, clock string
		o           timerule.Offset
	)
	c := &cobra.Command{
		Use:   "timerule",
		Short: "Print the dispatch and opening instants for a class start",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			dispatchOff := cfg.DispatchOffset
			if cmd.Flags().Changed("days") || cmd.Flags().Changed("hours") || cmd.Flags().Changed("minutes") {
				dispatchOff = o
			}
			event, err := timerule.EventInstant(date, clock, cfg.Location)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, row := range []struct {
				name string
				at   time.Time
			}{
				{"event", event},
				{"dispatch (" + dispatchOff.String() + ")", dispatchOff.Before(event)},
				{"opening (" + cfg.OpeningOffset.String() + ")", cfg.OpeningOffset.Before(event)},
			} {
				fmt.Fprintf(out, "%-28s %s  %s\n", row.name, row.at.Format("2006-01-02 15:04 MST"), row.at.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	c.Flags().StringVar(&date, "date", "", "class date YYYY-MM-DD or M/D/YYYY")
	c.Flags().StringVar(&clock, "time", "", "class start, e.g. \"10:00 AM\"")
	c.Flags().UintVar(&o.Days, "days", 0, "dispatch offset days (overrides config)")
	c.Flags().UintVar(&o.Hours, "hours", 0, "dispatch offset hours")
	c.Flags().UintVar(&o.Minutes, "minutes", 0, "dispatch offset minutes")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	return c
}
