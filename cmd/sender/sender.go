package sender

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"raptorcast/internal/access"
	"raptorcast/internal/config"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	tx "raptorcast/internal/sender"
	"raptorcast/internal/udp"
	"raptorcast/internal/utils"
)

// Глобальные переменные для параметров командной строки отправителя
var (
	cfg        = config.Defaults()
	configPath string
	ackLinger  time.Duration
)

var SenderCmd = &cobra.Command{
	Use:   "sender",
	Short: "Encode the input and send it as fountain-coded UDP packets",
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
		// дальше ошибки уже не про использование
		cmd.SilenceUsage = true
		return runSender(cfg)
	},
}

func init() {
	SenderCmd.Flags().StringVar(&configPath, "config", "", "TOML config file; explicit flags override it")
	SenderCmd.Flags().DurationVar(&ackLinger, "ack-linger", 2*time.Second, "how long to wait for an ack after the last block")
	config.BindFlags(SenderCmd.Flags(), &cfg)
}

func runSender(c config.Config) error {
	config.DebugEnabled = c.Debug
	logging.Init("raptorcast-sender", c.Debug)

	src, err := utils.ReadSource(c.Input)
	if err != nil {
		return err
	}

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
	ctrl := access.New(ch, access.DefaultBackoff())
	s := tx.New(tx.Options{
		Codec:     c.Codec,
		K:         c.K,
		SymbolLen: c.SymbolLen,
		PLR:       c.PLR,
		Extra:     c.Extra,
		SBN:       uint16(c.SBN),
		Pacing:    c.Pacing,
	}, ctrl, stats)
	ch.OnReceive(s.HandleAck)

	log.Info().
		Str("peer", c.Addr).Str("local", ch.LocalAddr().String()).
		Str("codec", c.Codec).Int("k", c.K).Int("t", c.SymbolLen).Int("plr", c.PLR).
		Int("bytes", len(src)).Bool("raw", c.Raw).
		Msg("sender starting")

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

	if c.Raw {
		g.Go(func() error {
			defer cancel()
			res, err := s.RunRaw(gctx, src, c.RawPackets)
			if err != nil && gctx.Err() == nil {
				return err
			}
			log.Info().Int("packets", res.Packets).Int("failed", res.Failed).Int("bytes", res.Bytes).Msg("raw transfer done")
			return nil
		})
	} else {
		g.Go(func() error { return sendBlocks(gctx, cancel, s, src) })
	}

	runErr := g.Wait()

	stats.Backoffs = ctrl.Waits()
	stats.Finish()
	stats.Print(os.Stderr, "SENDER")
	return runErr
}

// sendBlocks runs the coded transfer and then waits a while for the receiver's ack.
func sendBlocks(gctx context.Context, cancel context.CancelFunc, s *tx.Sender, src []byte) error {
	defer cancel()
	results, err := s.Run(gctx, src)
	for _, r := range results {
		if r.Failed > 0 {
			log.Warn().Uint16("sbn", r.SBN).Int("failed", r.Failed).Msg("block sent with transmit failures")
		}
	}
	if err != nil {
		if gctx.Err() != nil {
			return nil
		}
		return err
	}

	// ack только для диагностики, его отсутствие не ошибка
	t := time.NewTimer(ackLinger)
	defer t.Stop()
	select {
	case <-s.Acked():
		log.Info().Uint16("tries", s.LastAck()).Msg("receiver confirmed decode")
	case <-t.C:
		log.Warn().Dur("waited", ackLinger).Msg("no ack received")
	case <-gctx.Done():
	}
	return nil
}
