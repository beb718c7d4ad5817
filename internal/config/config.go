package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Константы протокола передачи
const (
	DataHeaderLen    = 10 // SBN, ESI, K, N, T по 2 байта
	MinDataPacketLen = 12 // заголовок + хотя бы один слот символа
	AckLen           = 2  // один 16-битный счетчик
	SlotWidth        = 2  // каждый байт символа занимает 16-битный слот
	RawHeaderLen     = 2  // счетчик пакета перед некодированными данными

	DefaultK           = 1000 // количество исходных символов в блоке
	DefaultSymbolLen   = 200  // T, байт на символ
	DefaultPLR         = 3    // процент симулируемых потерь
	DefaultExtraSymbol = 20   // дополнительные закодированные символы сверх бюджета
	DefaultRawPackets  = 1000 // пакетов в режиме без кодирования

	DefaultCodec = "raptor"
)

// Тайминги канального доступа и отправки
const (
	BackoffInitial     = 1 * time.Millisecond
	BackoffMax         = 10 * time.Millisecond
	BackoffMultiplier  = 2.0
	InterPacketDelay   = 40 * time.Millisecond
	DefaultAckInterval = 100 * time.Millisecond
	DefaultCarrierHold = 500 * time.Microsecond
)

// Глобальная переменная для управления debug логированием
var DebugEnabled bool

var ErrMissingAddr = errors.New("config: peer address is required")

// Config holds the tunables shared by the sender, the receiver and the simulator.
// Zero values are replaced by Defaults() before validation.
type Config struct {
	Addr        string        `toml:"addr"`
	Listen      string        `toml:"listen"`
	Codec       string        `toml:"codec"`
	K           int           `toml:"k"`
	SymbolLen   int           `toml:"symbol_len"`
	PLR         int           `toml:"plr"`
	Extra       int           `toml:"extra"`
	SBN         int           `toml:"sbn"`
	Pacing      time.Duration `toml:"pacing"`
	AckRepeat   int           `toml:"ack_repeat"`
	AckInterval time.Duration `toml:"ack_interval"`
	CarrierHold time.Duration `toml:"carrier_hold"`
	Backend     string        `toml:"backend"`
	Input       string        `toml:"input"`
	Output      string        `toml:"output"`
	MetricsAddr string        `toml:"metrics_addr"`
	Debug       bool          `toml:"debug"`
	ReusePort   bool          `toml:"reuse_port"`
	Raw         bool          `toml:"raw"`
	RawPackets  int           `toml:"raw_packets"`
}

func Defaults() Config {
	return Config{
		Codec:       DefaultCodec,
		K:           DefaultK,
		SymbolLen:   DefaultSymbolLen,
		PLR:         DefaultPLR,
		Extra:       DefaultExtraSymbol,
		Pacing:      InterPacketDelay,
		AckRepeat:   1,
		AckInterval: DefaultAckInterval,
		CarrierHold: DefaultCarrierHold,
		Backend:     "std",
		Input:       "-",
		Output:      "./output_raptor.264",
		MetricsAddr: ":9100",
		RawPackets:  DefaultRawPackets,
	}
}

// Load reads a TOML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	err := DecodeFile(path, &cfg)
	return cfg, err
}

// DecodeFile overlays the TOML file at path onto c. Keys absent from the file keep
// whatever c already holds. An empty path is a no-op.
func DecodeFile(path string, c *Config) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(raw), c); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges that the wire format can carry.
func (c Config) Validate() error {
	if c.K <= 0 || c.K > 65535 {
		return fmt.Errorf("invalid k: %d", c.K)
	}
	if c.SymbolLen <= 0 || c.SymbolLen > 65535 {
		return fmt.Errorf("invalid symbol length: %d", c.SymbolLen)
	}
	if c.PLR < 0 || c.PLR >= 100 {
		return fmt.Errorf("invalid plr: %d (must be 0-99)", c.PLR)
	}
	if c.Extra < 0 {
		return fmt.Errorf("invalid extra symbols: %d", c.Extra)
	}
	if c.SBN < 0 || c.SBN > 65535 {
		return fmt.Errorf("invalid sbn: %d", c.SBN)
	}
	if c.Pacing < 0 {
		return fmt.Errorf("invalid pacing: %v", c.Pacing)
	}
	if c.RawPackets < 0 {
		return fmt.Errorf("invalid raw packet count: %d", c.RawPackets)
	}
	if c.AckRepeat < 0 {
		return fmt.Errorf("invalid ack repeat: %d", c.AckRepeat)
	}
	switch c.Backend {
	case "std", "io_uring":
	default:
		return fmt.Errorf("invalid backend: %q (std|io_uring)", c.Backend)
	}
	return nil
}

// RequireAddr is the startup check for the peer address; without it nothing can be sent.
func (c Config) RequireAddr() error {
	if c.Addr == "" {
		return ErrMissingAddr
	}
	return nil
}
