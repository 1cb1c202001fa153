package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mindwolf80/nice/internal/device"
)

func newDialectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported device dialects",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, tag := range device.Dialects() {
				d, _ := device.ParseDialect(tag)
				spec := d.Spec()
				notes := ""
				if spec.RequiresEnable {
					notes = " (privileged-mode entry on connect)"
				}
				if spec.SupportsConfigMode {
					notes += " (config mode)"
				}
				fmt.Printf("%-16s%s\n", tag, notes)
			}
		},
	}
}
