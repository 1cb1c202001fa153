// nice runs ordered command sequences against fleets of network devices
// over interactive SSH.
//
// Usage:
//
//	nice run -i inventory.yaml              Run an inventory
//	nice run --host 10.0.0.1 -c "uptime"    Ad-hoc run against one host
//	nice dialects                           List supported device dialects
//
// Credentials come from NICE_USERNAME / NICE_PASSWORD, falling back to an
// interactive prompt. The first interrupt requests a graceful stop (devices
// finish their current command); a second interrupt force-closes every open
// session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	debugFlag  bool
	formatFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "nice",
	Short:         "Run command sequences across network devices over SSH",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(
		newRunCmd(),
		newDialectsCmd(),
	)
}
