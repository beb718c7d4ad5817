package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// BindFlags registers the flags every role shares, writing into c. Defaults come from c.
func BindFlags(fs *pflag.FlagSet, c *Config) {
	fs.StringVar(&c.Addr, "addr", c.Addr, "peer UDP address host:port")
	fs.StringVar(&c.Listen, "listen", c.Listen, "local UDP address (empty = any port)")
	fs.StringVar(&c.Codec, "codec", c.Codec, "erasure code: raptor|rs|lt")
	fs.IntVar(&c.K, "k", c.K, "source symbols per block")
	fs.IntVarP(&c.SymbolLen, "size", "t", c.SymbolLen, "symbol length T in bytes")
	fs.IntVarP(&c.PLR, "plr", "p", c.PLR, "packet loss rate, percent (0-99)")
	fs.IntVar(&c.Extra, "extra", c.Extra, "encoded symbols beyond the redundancy budget")
	fs.IntVar(&c.SBN, "sbn", c.SBN, "first source block number")
	fs.DurationVar(&c.Pacing, "pacing", c.Pacing, "delay between two data packets (0 = unpaced)")
	fs.IntVar(&c.AckRepeat, "ack-repeat", c.AckRepeat, "copies of each ack")
	fs.DurationVar(&c.AckInterval, "ack-interval", c.AckInterval, "spacing between ack copies")
	fs.DurationVar(&c.CarrierHold, "carrier-hold", c.CarrierHold, "how long a reception keeps the carrier busy")
	fs.StringVar(&c.Backend, "backend", c.Backend, "transmit backend: std|io_uring")
	fs.StringVar(&c.Input, "input", c.Input, "input file ('-' = stdin)")
	fs.StringVar(&c.Output, "output", c.Output, "output file ('-' = stdout)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus listen address (empty = off)")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
	fs.BoolVar(&c.ReusePort, "reuse-port", c.ReusePort, "set SO_REUSEPORT on the UDP socket")
	fs.BoolVar(&c.Raw, "raw", c.Raw, "send uncoded counter-prefixed packets instead of fountain blocks")
	fs.IntVar(&c.RawPackets, "raw-packets", c.RawPackets, "packets the raw sender emits (0 = until the input runs out)")
}

// Merge overlays the TOML file at path onto c and then re-applies every flag the user set
// explicitly, so the command line wins over the file and the file wins over the caller's
// defaults. An empty path leaves c untouched.
func Merge(fs *pflag.FlagSet, c *Config, path string) error {
	if path == "" {
		return nil
	}
	changed := map[string]string{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })

	if err := DecodeFile(path, c); err != nil {
		return err
	}
	for name, val := range changed {
		if err := fs.Set(name, val); err != nil {
			return fmt.Errorf("config: reapply --%s: %w", name, err)
		}
	}
	return nil
}
