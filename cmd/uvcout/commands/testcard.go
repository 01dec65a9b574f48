package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thesyncim/uvcout"
	"github.com/thesyncim/uvcout/internal/config"
	"github.com/thesyncim/uvcout/internal/logger"
)

var testcardCmd = &cobra.Command{
	Use:   "testcard",
	Short: "Write a generated test pattern to the output device",
	Long: `Generates a test pattern, encodes it as MJPEG and feeds it through the
output stage. Useful for checking a v4l2loopback device without a stream.`,
	RunE: runTestCard,
}

func init() {
	flags := testcardCmd.Flags()
	flags.String("pattern", "bars", "test pattern: bars, checkerboard or box")
	flags.Int("fps", 30, "frames per second")
	flags.Int("frames", 0, "stop after this many frames (0 = run until interrupted)")
	rootCmd.AddCommand(testcardCmd)
}

func runTestCard(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("testcard")

	flags := cmd.Flags()
	patternName, _ := flags.GetString("pattern")
	fps, _ := flags.GetInt("fps")
	limit, _ := flags.GetInt("frames")

	pattern, err := uvcout.ParseTestCardPattern(patternName)
	if err != nil {
		return err
	}
	if fps <= 0 || fps > 120 {
		return fmt.Errorf("fps must be between 1 and 120, got %d", fps)
	}

	stageCfg, err := cfg.StageConfig()
	if err != nil {
		return err
	}
	stage, err := uvcout.NewOutputStage(stageCfg, uvcout.WithLogger(logger.WithComponent("output")))
	if err != nil {
		return fmt.Errorf("failed to create output stage: %w", err)
	}

	// Stage defaults are resolved by NewOutputStage
	size := stage.Config()
	card, err := uvcout.NewTestCard(size.Width, size.Height, pattern, size.Quality)
	if err != nil {
		stage.Close()
		return err
	}
	defer card.Close()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("device", size.Device).
		Str("pattern", pattern.String()).
		Int("fps", fps).
		Msg("Writing test card, press Ctrl+C to stop")

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	var genErr error
	start := time.Now()
loop:
	for n := 0; limit == 0 || n < limit; n++ {
		frame, err := card.NextFrame(time.Since(start).Microseconds())
		if err != nil {
			genErr = err
			break
		}
		if out := stage.OutputFrame(frame); out.Dropped() {
			log.Warn().Str("reason", out.Reason.String()).Msg("Test card frame dropped")
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	closeErr := stage.Close()
	fmt.Fprintln(cmd.OutOrStdout(), uvcout.Summary(stage.Stats()))
	return errors.Join(genErr, closeErr)
}
