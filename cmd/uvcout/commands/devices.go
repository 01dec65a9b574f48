package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thesyncim/uvcout"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List V4L2 video devices",
	Long: `Lists the /dev/video nodes that answer VIDIOC_QUERYCAP. Nodes marked
"output" (for example v4l2loopback devices) can be used with --device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputOnly, _ := cmd.Flags().GetBool("output")

		devices, err := uvcout.ListVideoDevices(cmd.Context())
		if err != nil {
			return err
		}

		shown := 0
		for _, d := range devices {
			if outputOnly && !d.Output {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), d)
			shown++
		}
		if shown == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no video devices found")
		}
		return nil
	},
}

func init() {
	devicesCmd.Flags().Bool("output", false, "only list devices that accept video output")
	rootCmd.AddCommand(devicesCmd)
}
