// Command rss-im-sweep drives a two-tone intermodulation sweep on a vector
// network analyzer.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.LookupEnv, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(lookup func(string) (string, bool), stdout, stderr io.Writer) *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "rss-im-sweep",
		Short: "Two-tone IM3 sweep controller for R&S vector network analyzers",
		Long: `Connects to a ZVA-class analyzer over its raw SCPI socket, mirrors the
sweep settings between the analyzer and a persisted settings file, and sets
up the four intermodulation channels.

Examples:
  rss-im-sweep run --addr 192.168.56.102          # connect and serve status on :8080
  rss-im-sweep run --backend mock --web-addr ""   # exercise the controller offline
  rss-im-sweep discover --timeout 5s              # browse mDNS for analyzers
  rss-im-sweep plan                               # print the stored sweep plan
  rss-im-sweep settings set center_freq=2.4e9     # edit the settings file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	bindFlags(root.PersistentFlags(), lookup, o)

	root.AddCommand(
		newRunCmd(o),
		newDiscoverCmd(o),
		newPlanCmd(o),
		newSettingsCmd(o),
	)
	return root
}
