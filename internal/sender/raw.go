package sender

import (
	"context"
	"sync/atomic"

	"raptorcast/internal/buffer"
	"raptorcast/internal/metrics"
	"raptorcast/internal/packet"
	"raptorcast/internal/utils"
)

// RawResult describes one uncoded transfer.
type RawResult struct {
	Packets int
	Failed  int
	Bytes   int // байты исходных данных, без счетчиков
}

// RunRaw is the uncoded baseline: src goes out in SymbolLen slices, each behind a 16-bit
// counter, with the same carrier sense and pacing as coded blocks. limit caps the number
// of packets; once src is exhausted the remaining packets carry only the counter. A
// limit of 0 stops with the last slice of src.
func (s *Sender) RunRaw(ctx context.Context, src []byte, limit int) (RawResult, error) {
	var res RawResult
	if len(src) == 0 && limit == 0 {
		return res, ErrEmptySource
	}
	size := s.opts.SymbolLen
	if size <= 0 {
		size = len(src)
	}
	if limit == 0 {
		limit = (len(src) + size - 1) / size
	}
	s.log.Info().Int("packets", limit).Int("size", size).Int("bytes", len(src)).Msg("sending raw")

	off := 0
	for i := 0; i < limit; i++ {
		end := min(off+size, len(src))
		data := src[off:end]
		off = end

		fr := buffer.GetFrame()
		frame := fr.Encode(func(dst []byte) []byte { return packet.AppendRaw(dst, uint16(i), data) })
		err := s.ctrl.Send(ctx, frame)
		n := len(frame)
		fr.Release()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			s.log.Warn().Err(err).Int("seq", i).Msg("transmit failed")
			continue
		}

		res.Packets++
		res.Bytes += len(data)
		metrics.PromTxPackets.Inc()
		metrics.PromTxBytes.Add(float64(n))
		atomic.AddUint64(&s.stats.Packets, 1)
		atomic.AddUint64(&s.stats.Bytes, uint64(n))
		utils.DebugLog("[SENDER] raw seq=%d sent %d bytes", uint16(i), n)
		if err := s.pace(ctx); err != nil {
			return res, err
		}
	}
	s.log.Info().Int("packets", res.Packets).Int("failed", res.Failed).Msg("raw transfer sent")
	return res, nil
}
