package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"raptorcast/internal/config"
)

// DebugLog выводит debug сообщения только если включен режим отладки
func DebugLog(format string, args ...interface{}) {
	if config.DebugEnabled {
		log.Debug().Msgf(format, args...)
	}
}

// SetupGracefulShutdown настраивает обработку сигналов завершения
func SetupGracefulShutdown() <-chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// ReadSource читает весь исходный поток ('-' = stdin)
// Блок кодируется целиком, поэтому потоковое чтение не требуется
func ReadSource(path string) ([]byte, error) {
	var in io.Reader
	if path == "-" {
		in = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = bufio.NewReader(f)
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

// TransferStats - статистика передачи одной стороны
type TransferStats struct {
	StartTime time.Time
	EndTime   time.Time
	Packets   uint64
	Bytes     uint64
	Dropped   uint64 // намеренно отброшенные (симуляция потерь)
	Malformed uint64
	Backoffs  uint64
	Acks      uint64
	Blocks    uint64
	Duration  time.Duration
	Speed     float64 // KB/s
}

// Finish фиксирует время окончания и считает скорость
func (s *TransferStats) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
	if s.Duration.Seconds() > 0 {
		s.Speed = float64(s.Bytes) / s.Duration.Seconds() / 1024
	}
}

// Print выводит итоговую статистику
func (s *TransferStats) Print(out io.Writer, role string) {
	fmt.Fprintf(out, "\n[%s] === Transfer Statistics ===\n", role)
	fmt.Fprintf(out, "[%s] Duration: %.2fs\n", role, s.Duration.Seconds())
	fmt.Fprintf(out, "[%s] Packets: %d\n", role, s.Packets)
	fmt.Fprintf(out, "[%s] Bytes: %d (%.2f KB)\n", role, s.Bytes, float64(s.Bytes)/1024)
	fmt.Fprintf(out, "[%s] Speed: %.2f KB/s\n", role, s.Speed)
	fmt.Fprintf(out, "[%s] Simulated drops: %d\n", role, s.Dropped)
	fmt.Fprintf(out, "[%s] Malformed: %d\n", role, s.Malformed)
	fmt.Fprintf(out, "[%s] Backoff waits: %d\n", role, s.Backoffs)
	fmt.Fprintf(out, "[%s] Acks: %d\n", role, s.Acks)
	fmt.Fprintf(out, "[%s] Blocks decoded: %d\n", role, s.Blocks)
	fmt.Fprintf(out, "[%s] ============================\n", role)
}
