package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dkeye/voiceclient/internal/app/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, d := range audio.NewSyntheticDevices(false).Devices() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", d.ID, d.Label)
		}
		return nil
	},
}
