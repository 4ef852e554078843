package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/luksan/rss-im-sweep/internal/instrument"
)

func newDiscoverCmd(o *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse mDNS for analyzers on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hosts, err := instrument.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "no analyzers found")
				return nil
			}
			printHosts(cmd, hosts)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "browse duration")
	return cmd
}

func printHosts(cmd *cobra.Command, hosts []instrument.Host) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tSERVICE\tTXT")
	for _, h := range hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.Instance, h.Address(), h.Service, strings.Join(h.TXT, " "))
	}
	tw.Flush()
}
