package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/facenote/internal/utils"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the video inputs that can be selected",
	Run: func(cmd *cobra.Command, args []string) {
		runDevices(cmd)
	},
}

func init() {
	devicesCmd.Flags().StringSliceVarP(&videoFiles, "file", "f", nil, "Video file offered as an extra device (repeatable)")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command) {
	devices, err := newSource().Devices(cmd.Context())
	if err != nil {
		utils.Die("Failed to enumerate devices", err, nil)
	}

	if len(devices) == 0 {
		fmt.Println("No video inputs found.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSELECTED")
	fmt.Fprintln(w, "--\t-----\t--------")

	for _, d := range devices {
		selected := ""
		if d.ID == Cfg.Device {
			selected = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, d.Label, selected)
	}
	w.Flush()
}
