package receiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"raptorcast/internal/access"
	"raptorcast/internal/buffer"
	"raptorcast/internal/config"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	rx "raptorcast/internal/receiver"
	"raptorcast/internal/udp"
	"raptorcast/internal/utils"
)

// Глобальные переменные для параметров командной строки приемника
var (
	cfg         = config.Defaults()
	configPath  string
	blocksLimit uint64
	bufferSize  int
)

var ReceiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Receive fountain-coded UDP packets, decode blocks and acknowledge them",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Merge(cmd.Flags(), &cfg, configPath); err != nil {
			return err
		}
		if err := cfg.RequireAddr(); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("parameter validation failed: %w", err)
		}
		cmd.SilenceUsage = true
		return runReceiver(cfg)
	},
}

func init() {
	ReceiverCmd.Flags().StringVar(&configPath, "config", "", "TOML config file; explicit flags override it")
	ReceiverCmd.Flags().Uint64Var(&blocksLimit, "blocks", 0, "exit after this many decoded blocks (0 = run until interrupted)")
	ReceiverCmd.Flags().IntVar(&bufferSize, "buffer-size", 1024*1024, "output write buffer size in bytes")
	config.BindFlags(ReceiverCmd.Flags(), &cfg)
}

func runReceiver(c config.Config) error {
	config.DebugEnabled = c.Debug
	logging.Init("raptorcast-receiver", c.Debug)

	out, err := buffer.NewOrderedFileWriter(c.Output, bufferSize)
	if err != nil {
		return err
	}
	defer out.Close()

	metrics.StartPrometheus(c.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := udp.New(ctx, udp.Options{
		Listen:      c.Listen,
		Peer:        c.Addr,
		CarrierHold: c.CarrierHold,
		Backend:     c.Backend,
		ReusePort:   c.ReusePort,
	})
	if err != nil {
		return err
	}
	defer ch.Close()

	stats := &utils.TransferStats{StartTime: time.Now()}
	if c.Raw {
		return runRaw(ctx, cancel, ch, out, stats)
	}
	ctrl := access.New(ch, access.DefaultBackoff())
	r := rx.New(rx.Options{
		Codec:       c.Codec,
		PLR:         c.PLR,
		AckRepeat:   c.AckRepeat,
		AckInterval: c.AckInterval,
	}, out, ctrl, stats)
	ch.OnReceive(r.Dispatch)

	log.Info().
		Str("local", ch.LocalAddr().String()).Str("peer", c.Addr).
		Str("codec", c.Codec).Int("plr", c.PLR).Str("output", c.Output).
		Msg("receiver listening")

	sigChan := utils.SetupGracefulShutdown()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		if err := r.AckLoop(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if blocksLimit > 0 {
		g.Go(func() error {
			if err := r.WaitBlocks(gctx, blocksLimit); err != nil {
				return nil
			}
			// даем ack-циклу время отправить все копии
			linger := c.AckInterval*time.Duration(c.AckRepeat) + 200*time.Millisecond
			t := time.NewTimer(linger)
			defer t.Stop()
			select {
			case <-t.C:
			case <-gctx.Done():
			}
			cancel()
			return nil
		})
	}

	runErr := g.Wait()

	if err := out.Flush(); err != nil && runErr == nil {
		runErr = err
	}
	stats.Backoffs = ctrl.Waits()
	stats.Finish()
	stats.Print(os.Stderr, "RECEIVER")
	fmt.Fprintf(os.Stderr, "[RECEIVER] Written: %d bytes (%.2f MB/s)\n", out.Written(), out.GetWriteSpeed())
	return runErr
}

// runRaw receives the uncoded baseline until interrupted. Nothing is acknowledged.
func runRaw(ctx context.Context, cancel context.CancelFunc, ch *udp.Channel, out *buffer.OrderedFileWriter, stats *utils.TransferStats) error {
	r := rx.NewRaw(out, stats)
	ch.OnReceive(r.Dispatch)
	log.Info().Str("local", ch.LocalAddr().String()).Msg("raw receiver listening")

	select {
	case sig := <-utils.SetupGracefulShutdown():
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	err := out.Flush()
	stats.Finish()
	stats.Print(os.Stderr, "RECEIVER")
	fmt.Fprintf(os.Stderr, "[RECEIVER] Raw delivered: %d, lost: %d, late: %d, written: %d bytes\n",
		r.Delivered(), r.Lost(), r.Late(), r.Written())
	return err
}
