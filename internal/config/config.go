// Package config loads wire-sentinel.toml. The returned Config is read-only
// after Load; components receive it or values copied from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const DefaultPath = "wire-sentinel.toml"

// ApexHostname names the zone apex in own_hostname.
const ApexHostname = "@"

type Config struct {
	Core      Core      `toml:"config"`
	Monitor   Monitor   `toml:"monitor"`
	DNS       DNS       `toml:"dns"`
	WireGuard WireGuard `toml:"wireguard"`
	Router    Router    `toml:"router"`
	API       API       `toml:"api"`
	Log       Log       `toml:"log"`
}

// Core holds the settings every deployment must provide.
type Core struct {
	InternalInterface string `toml:"internal_interface" validate:"required"`
	WGInterface       string `toml:"wg_interface" validate:"required"`
	BearerToken       string `toml:"bearer_token" validate:"required"`
	Domain            string `toml:"domain" validate:"required"`
	PeerPubkey        string `toml:"peer_pubkey" validate:"required"`
	PeerHostname      string `toml:"peer_hostname" validate:"required"`
	OwnHostname       string `toml:"own_hostname" validate:"required"`
}

type Monitor struct {
	Source    string `toml:"source" validate:"oneof=ip netlink"`
	QueueSize int    `toml:"queue_size" validate:"min=1,max=4096"`
}

type DNS struct {
	APIURL                string        `toml:"api_url" validate:"required,url"`
	TTL                   int           `toml:"ttl" validate:"min=300,max=2592000"`
	Timeout               time.Duration `toml:"timeout"`
	PropagationCheck      bool          `toml:"propagation_check"`
	PropagationNameserver string        `toml:"propagation_nameserver"`
	PropagationTimeout    time.Duration `toml:"propagation_timeout"`
	PropagationInterval   time.Duration `toml:"propagation_interval"`
}

type WireGuard struct {
	Backend  string `toml:"backend" validate:"oneof=wg wgctrl"`
	Port     int    `toml:"port" validate:"min=1,max=65535"`
	WGBinary string `toml:"wg_binary" validate:"required"`
}

type Router struct {
	Mode string `toml:"mode" validate:"oneof=gated fanout"`
}

type API struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host" validate:"required"`
	Port    int    `toml:"port" validate:"min=1,max=65535"`
}

type Log struct {
	Level      string `toml:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" validate:"min=1"`
	MaxBackups int    `toml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `toml:"max_age_days" validate:"min=0"`
	Compress   bool   `toml:"compress"`
}

// Default returns a Config with every optional setting filled in.
func Default() *Config {
	return &Config{
		Monitor: Monitor{
			Source:    "ip",
			QueueSize: 16,
		},
		DNS: DNS{
			APIURL:              "https://api.gandi.net",
			TTL:                 300,
			Timeout:             5 * time.Second,
			PropagationTimeout:  30 * time.Second,
			PropagationInterval: 2 * time.Second,
		},
		WireGuard: WireGuard{
			Backend:  "wg",
			Port:     51820,
			WGBinary: "wg",
		},
		Router: Router{Mode: "gated"},
		API: API{
			Host: "127.0.0.1",
			Port: 60106,
		},
		Log: Log{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads, decodes and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result. Keys the
// schema does not know are an error.
func Parse(data string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FQDN is the name of the AAAA record being kept up to date.
func (c *Config) FQDN() string {
	if c.Core.OwnHostname == ApexHostname {
		return c.Core.Domain
	}
	return c.Core.OwnHostname + "." + c.Core.Domain
}

// APIAddr is the listen address of the local HTTP API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

var errNonPositive = errors.New("must be positive")

func checkDurations(c *Config) []string {
	var msgs []string
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"dns.timeout", c.DNS.Timeout},
		{"dns.propagation_timeout", c.DNS.PropagationTimeout},
		{"dns.propagation_interval", c.DNS.PropagationInterval},
	} {
		if d.v <= 0 {
			msgs = append(msgs, fmt.Sprintf("%s %s", d.name, errNonPositive))
		}
	}
	return msgs
}
