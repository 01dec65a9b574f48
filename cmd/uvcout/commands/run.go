package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/thesyncim/uvcout"
	"github.com/thesyncim/uvcout/ingest"
	"github.com/thesyncim/uvcout/internal/config"
	"github.com/thesyncim/uvcout/internal/logger"
)

func runOutput(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	log := logger.WithComponent("main")

	if cfg.RTP.Listen == "" && cfg.RTMP.Listen == "" {
		return errors.New("no input configured: set --rtp-listen and/or --rtmp-listen")
	}

	stageCfg, err := cfg.StageConfig()
	if err != nil {
		return err
	}
	stage, err := uvcout.NewOutputStage(stageCfg, uvcout.WithLogger(logger.WithComponent("output")))
	if err != nil {
		return fmt.Errorf("failed to create output stage: %w", err)
	}
	out := ingest.NewSerialized(stage)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError()

	if cfg.RTP.Listen != "" {
		rtp := ingest.NewRTPReceiver(out, ingest.RTPConfig{
			Addr:        cfg.RTP.Listen,
			PayloadType: cfg.RTP.PayloadType,
			MaxLate:     cfg.RTP.MaxLate,
		}, logger.WithComponent("rtp"))
		if err := rtp.Listen(); err != nil {
			stage.Close()
			return err
		}
		p.Go(rtp.Serve)
	}

	if cfg.RTMP.Listen != "" {
		ln, err := net.Listen("tcp", cfg.RTMP.Listen)
		if err != nil {
			cancel()
			p.Wait()
			stage.Close()
			return fmt.Errorf("listen rtmp %s: %w", cfg.RTMP.Listen, err)
		}
		srv := ingest.NewRTMPServer(out, logger.WithComponent("rtmp"))
		p.Go(func(ctx context.Context) error {
			return srv.Serve(ctx, ln)
		})
	}

	log.Info().Str("device", stageCfg.Device).Msg("uvcout running, press Ctrl+C to stop")
	runErr := p.Wait()

	log.Info().Msg("Shutting down")
	var closeErr error
	out.Do(func() { closeErr = stage.Close() })

	fmt.Fprintln(cmd.OutOrStdout(), uvcout.Summary(stage.Stats()))
	return errors.Join(runErr, closeErr)
}
