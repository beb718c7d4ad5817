package simulate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"raptorcast/internal/access"
	"raptorcast/internal/buffer"
	"raptorcast/internal/channel"
	"raptorcast/internal/config"
	"raptorcast/internal/logging"
	"raptorcast/internal/metrics"
	"raptorcast/internal/receiver"
	"raptorcast/internal/sender"
	"raptorcast/internal/utils"
)

var ErrMismatch = errors.New("simulate: decoded output differs from input")

// Глобальные переменные для параметров симуляции
var (
	cfg         = simDefaults()
	configPath  string
	sourceBytes int
	seed        int64
	dropRate    float64
	corruptRate float64
	timeout     time.Duration
)

func simDefaults() config.Config {
	c := config.Defaults()
	c.Pacing = 0
	c.Input = ""
	c.Output = ""
	c.MetricsAddr = ""
	c.RawPackets = 0
	return c
}

var SimulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run sender and receiver over an in-memory link and verify the decoded output",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Merge(cmd.Flags(), &cfg, configPath); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("parameter validation failed: %w", err)
		}
		cmd.SilenceUsage = true

		config.DebugEnabled = cfg.Debug
		logging.Init("raptorcast-simulate", cfg.Debug)
		metrics.StartPrometheus(cfg.MetricsAddr)

		src, err := source(cfg.Input)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		go func() {
			select {
			case <-utils.SetupGracefulShutdown():
				cancel()
			case <-ctx.Done():
			}
		}()

		rep, err := Run(ctx, Params{
			Config:      cfg,
			Source:      src,
			DropRate:    dropRate,
			CorruptRate: corruptRate,
			Seed:        seed,
		})
		rep.Print(os.Stderr)
		if err != nil {
			return err
		}
		if cfg.Output != "" {
			if err := os.WriteFile(cfg.Output, rep.Output, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		return nil
	},
}

func init() {
	SimulateCmd.Flags().StringVar(&configPath, "config", "", "TOML config file; explicit flags override it")
	SimulateCmd.Flags().IntVar(&sourceBytes, "bytes", 64*1024, "random source size when no --input is given")
	SimulateCmd.Flags().Int64Var(&seed, "seed", 1, "seed for the source, the link and the loss sets")
	SimulateCmd.Flags().Float64Var(&dropRate, "drop", 0, "probability that the link loses a packet")
	SimulateCmd.Flags().Float64Var(&corruptRate, "corrupt", 0, "probability that the link flags a packet bad")
	SimulateCmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	config.BindFlags(SimulateCmd.Flags(), &cfg)
}

// source reads path, or generates --bytes of random data when path is empty.
func source(path string) ([]byte, error) {
	if path != "" {
		return utils.ReadSource(path)
	}
	b := make([]byte, sourceBytes)
	rand.New(rand.NewSource(seed)).Read(b)
	return b, nil
}

// Params describes one simulated transfer.
type Params struct {
	Config      config.Config
	Source      []byte
	DropRate    float64
	CorruptRate float64
	Seed        int64
}

// Report is the outcome of a simulated transfer.
type Report struct {
	Blocks   []sender.BlockResult
	Raw      *RawReport
	Decoded  uint64
	Output   []byte
	Match    bool
	TX, RX   *utils.TransferStats
	Duration time.Duration
}

// RawReport is what the uncoded baseline delivered.
type RawReport struct {
	Sent, Delivered, Lost uint64
}

// Ratio is the share of sent packets that arrived intact.
func (r *RawReport) Ratio() float64 {
	if r.Sent == 0 {
		return 0
	}
	return float64(r.Delivered) / float64(r.Sent)
}

// Run pushes p.Source through a sender and a receiver joined by a lossy loopback link.
// The decoded output must equal the source followed only by zero padding.
func Run(ctx context.Context, p Params) (*Report, error) {
	c := p.Config
	rep := &Report{
		TX: &utils.TransferStats{StartTime: time.Now()},
		RX: &utils.TransferStats{StartTime: time.Now()},
	}

	txEnd := channel.NewLoopback(
		channel.WithSeed(p.Seed),
		channel.WithDropRate(p.DropRate),
		channel.WithCorruptRate(p.CorruptRate),
	)
	rxEnd := channel.NewLoopback(channel.WithSeed(p.Seed + 1))
	channel.Link(txEnd, rxEnd)
	defer txEnd.Close()
	defer rxEnd.Close()

	var out bytes.Buffer
	sink := buffer.NewOrderedWriter(&out, nil, 0)
	defer sink.Close()

	txCtrl := access.New(txEnd, access.DefaultBackoff())
	snd := sender.New(sender.Options{
		Codec:     c.Codec,
		K:         c.K,
		SymbolLen: c.SymbolLen,
		PLR:       c.PLR,
		Extra:     c.Extra,
		SBN:       uint16(c.SBN),
		Pacing:    c.Pacing,
	}, txCtrl, rep.TX)
	if c.Raw {
		return runRaw(ctx, p, rep, snd, txEnd, rxEnd, txCtrl)
	}
	rxCtrl := access.New(rxEnd, access.DefaultBackoff())
	rcv := receiver.New(receiver.Options{
		Codec:       c.Codec,
		PLR:         c.PLR,
		Rand:        rand.New(rand.NewSource(p.Seed)),
		AckRepeat:   c.AckRepeat,
		AckInterval: c.AckInterval,
	}, sink, rxCtrl, rep.RX)
	txEnd.OnReceive(snd.HandleAck)
	rxEnd.OnReceive(rcv.Dispatch)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	var g errgroup.Group
	g.Go(func() error {
		if err := rcv.AckLoop(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	start := time.Now()
	blocks, err := snd.Run(ctx, p.Source)
	rep.Blocks = blocks
	if err == nil {
		err = rcv.WaitBlocks(ctx, uint64(len(blocks)))
	}
	if err == nil {
		// последний ack
		select {
		case <-snd.Acked():
		case <-ctx.Done():
		}
	}
	rep.Duration = time.Since(start)
	stopLoop()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	// после Close колбэки больше не вызываются
	txEnd.Close()
	rxEnd.Close()

	rep.Decoded = rcv.BlocksDecoded()
	rep.TX.Backoffs = txCtrl.Waits()
	rep.RX.Backoffs = rxCtrl.Waits()
	rep.TX.Finish()
	rep.RX.Finish()
	if ferr := sink.Flush(); ferr != nil && err == nil {
		err = ferr
	}
	rep.Output = append([]byte(nil), out.Bytes()...)
	if err != nil {
		return rep, err
	}

	rep.Match = matchesPadded(rep.Output, p.Source)
	if !rep.Match {
		return rep, ErrMismatch
	}
	log.Info().Int("blocks", len(blocks)).Dur("took", rep.Duration).Msg("simulation verified")
	return rep, nil
}

// runRaw sends the source uncoded and measures what survives the link. There is no
// recovery, so a lossy link is expected to leave gaps and only a lossless one must match.
func runRaw(ctx context.Context, p Params, rep *Report, snd *sender.Sender, txEnd, rxEnd *channel.Loopback, txCtrl *access.Controller) (*Report, error) {
	var out bytes.Buffer
	rcv := receiver.NewRaw(&out, rep.RX)
	rxEnd.OnReceive(rcv.Dispatch)

	start := time.Now()
	res, err := snd.RunRaw(ctx, p.Source, p.Config.RawPackets)
	if err == nil {
		err = rcv.WaitHandled(ctx, uint64(res.Packets)-txEnd.Dropped())
	}
	rep.Duration = time.Since(start)
	txEnd.Close()
	rxEnd.Close()

	rep.Raw = &RawReport{Sent: uint64(res.Packets), Delivered: rcv.Delivered(), Lost: rcv.Lost()}
	rep.TX.Backoffs = txCtrl.Waits()
	rep.TX.Finish()
	rep.RX.Finish()
	rep.Output = append([]byte(nil), out.Bytes()...)
	if err != nil {
		return rep, err
	}
	rep.Match = bytes.Equal(rep.Output, p.Source)
	log.Info().Uint64("sent", rep.Raw.Sent).Uint64("delivered", rep.Raw.Delivered).
		Float64("ratio", rep.Raw.Ratio()).Msg("raw simulation done")
	return rep, nil
}

// matchesPadded reports whether out is src followed by nothing but zero bytes.
func matchesPadded(out, src []byte) bool {
	if !bytes.HasPrefix(out, src) {
		return false
	}
	for _, b := range out[len(src):] {
		if b != 0 {
			return false
		}
	}
	return true
}

func (r *Report) Print(w io.Writer) {
	if r == nil {
		return
	}
	r.TX.Print(w, "SIM TX")
	r.RX.Print(w, "SIM RX")
	if r.Raw != nil {
		fmt.Fprintf(w, "[SIM] Raw packets sent: %d, delivered: %d, lost: %d (%.1f%% delivered)\n",
			r.Raw.Sent, r.Raw.Delivered, r.Raw.Lost, 100*r.Raw.Ratio())
	} else {
		fmt.Fprintf(w, "[SIM] Blocks sent: %d, decoded: %d\n", len(r.Blocks), r.Decoded)
	}
	fmt.Fprintf(w, "[SIM] Output: %d bytes, match: %v, took %.2fs\n", len(r.Output), r.Match, r.Duration.Seconds())
}
