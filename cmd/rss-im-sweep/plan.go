package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/sweep"
)

func newPlanCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the frequency plan of the stored sweep settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := o.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			s := loadSettings(o, logger)
			plan := sweep.Plan{
				Center:       s.CenterFreq.Get(),
				SpacingStart: s.SpacingStart.Get(),
				SpacingStop:  s.SpacingStop.Get(),
				Points:       s.SweepPoints.Get(),
			}
			if err := plan.Validate(); err != nil {
				return err
			}
			printPlan(cmd, plan, s.IFBandwidth.Get(), s.CalPower.Get())
			logger.Debug("plan printed", logging.Field{Key: "points", Value: plan.Points})
			return nil
		},
	}
}

func printPlan(cmd *cobra.Command, plan sweep.Plan, ifbw, calPower float64) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "center %g Hz, tone spacing %g to %g Hz, %d points\n\n",
		plan.Center, plan.SpacingStart, plan.SpacingStop, plan.Points)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tCONVERSION\tSIDEBAND\tFROM (Hz)\tTO (Hz)")
	for _, ch := range sweep.Channels() {
		f := plan.Frequencies(ch.Numerator)
		band := "LO below RF"
		if ch.LOHigh {
			band = "LO above RF"
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%g\t%g\n", ch.Name, ch.Numerator, sweep.Denominator, band, floats.Min(f), floats.Max(f))
	}
	tw.Flush()

	fmt.Fprintln(out, "\ncalibration segments:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tSTART (Hz)\tSTOP (Hz)\tPOINTS\tIFBW (Hz)\tPOWER (dBm)")
	for i, seg := range plan.CalSegments(ifbw, calPower) {
		fmt.Fprintf(tw, "%d\t%g\t%g\t%d\t%g\t%g\n", i+1, seg.Start, seg.Stop, seg.Points, seg.IFBW, seg.Power)
	}
	tw.Flush()
}
