package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "uvcout",
		Short: "uvcout - MJPEG virtual camera output",
		Long: `uvcout receives H.264 or MJPEG video and writes it as MJPEG to a
V4L2 loopback device (or a file), so the stream shows up as a webcam.

H.264 input arriving over RTP or RTMP is transcoded on the fly.
Every frame is counted as written or dropped and a summary is
printed on shutdown.`,
		SilenceUsage: true,
		RunE:         runOutput,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "human readable console logs")
	flags.String("device", "", "output device or file (default /dev/video0)")
	flags.Int("width", 0, "output width (default 1920)")
	flags.Int("height", 0, "output height (default 1080)")
	flags.Int("quality", 0, "JPEG quality for transcoded frames (1-100)")
	flags.String("scale-mode", "", "aspect handling when resizing: stretch or fill")
	flags.String("rtp-listen", "", "UDP address for RTP/H.264 input, e.g. :5004")
	flags.Uint8("rtp-payload-type", 0, "accepted RTP payload type (0 = any)")
	flags.String("rtmp-listen", "", "TCP address for RTMP publish input, e.g. :1935")

	// Bind flags to viper
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_pretty", flags.Lookup("log-pretty"))
	viper.BindPFlag("output.device", flags.Lookup("device"))
	viper.BindPFlag("output.width", flags.Lookup("width"))
	viper.BindPFlag("output.height", flags.Lookup("height"))
	viper.BindPFlag("output.quality", flags.Lookup("quality"))
	viper.BindPFlag("output.scale_mode", flags.Lookup("scale-mode"))
	viper.BindPFlag("rtp.listen", flags.Lookup("rtp-listen"))
	viper.BindPFlag("rtp.payload_type", flags.Lookup("rtp-payload-type"))
	viper.BindPFlag("rtmp.listen", flags.Lookup("rtmp-listen"))
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = os.Getenv("UVCOUT_CONFIG")
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
