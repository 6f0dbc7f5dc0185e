package sim

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honored by every run.
const (
	// EnvSeed seeds all RNG streams of a run.
	EnvSeed = "FLOCKNET_SEED"

	// EnvBasePort overrides the default listener port base.
	EnvBasePort = "FLOCKNET_BASE_PORT"
)

// DefaultBasePort is the first listener port when no override is given.
// Server i binds base+i.
const DefaultBasePort = 15000

// Config describes one simulation run. A Config is immutable once a run
// starts; repeated runs tear down and reconstruct everything from a fresh
// Config.
type Config struct {
	// Name labels result artifacts.
	Name string `json:"name" yaml:"name"`

	// Strategy names the AQM strategy applied at every server.
	Strategy string `json:"strategy" yaml:"strategy"`

	// Agents and Servers size the swarm.
	Agents  int `json:"agents" yaml:"agents"`
	Servers int `json:"servers" yaml:"servers"`

	// Duration is the time the simulation stays in the Running state.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Traffic selects the per-agent traffic pattern.
	Traffic TrafficSpec `json:"traffic" yaml:"traffic"`

	// Capacity is the per-server buffer bound in packets.
	Capacity int `json:"capacity" yaml:"capacity"`

	// BandwidthPPS is the per-server service rate. +Inf disables queuing.
	BandwidthPPS float64 `json:"bandwidth_pps" yaml:"bandwidth_pps"`

	// PacketSize is the fixed on-wire packet size for the run.
	PacketSize uint32 `json:"packet_size" yaml:"packet_size"`

	// Seed makes packet schedules and admission decisions reproducible.
	// Zero means unseeded.
	Seed uint64 `json:"seed" yaml:"seed"`

	// BasePort is the first listener port; server i binds BasePort+i.
	// Zero selects DefaultBasePort.
	BasePort int `json:"base_port" yaml:"base_port"`
}

// DefaultConfig returns the baseline configuration the CLI starts from.
func DefaultConfig() Config {
	return Config{
		Name:     "flocknet",
		Strategy: "drop-tail",
		Agents:   64,
		Servers:  4,
		Duration: 60 * time.Second,
		Traffic: TrafficSpec{
			Pattern: "constant",
			Rate:    100,
		},
		Capacity:     1024,
		BandwidthPPS: 8000,
		PacketSize:   1500,
		BasePort:     DefaultBasePort,
	}
}

// ApplyEnv overlays the FLOCKNET_* environment variables onto c. Explicit
// values win over the environment only for the seed, which the environment
// supplies when c.Seed is zero.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvSeed); v != "" && c.Seed == 0 {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrConfigInvalid, EnvSeed, v)
		}
		c.Seed = seed
	}

	if v := os.Getenv(EnvBasePort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s=%q", ErrConfigInvalid, EnvBasePort, v)
		}
		c.BasePort = port
	}

	return nil
}

// Validate checks the structural constraints a run requires. Strategy names
// are resolved later, by the registry, so an unknown name is not an error
// here.
func (c *Config) Validate() error {
	switch {
	case c.Agents < 0:
		return fmt.Errorf("%w: agents must be >= 0", ErrConfigInvalid)
	case c.Servers < 1:
		return fmt.Errorf("%w: servers must be >= 1", ErrConfigInvalid)
	case c.Duration < 0:
		return fmt.Errorf("%w: duration must be >= 0", ErrConfigInvalid)
	case c.Capacity < 0:
		return fmt.Errorf("%w: capacity must be >= 0", ErrConfigInvalid)
	case c.BandwidthPPS <= 0 && !math.IsInf(c.BandwidthPPS, 1):
		return fmt.Errorf("%w: bandwidth must be positive", ErrConfigInvalid)
	case c.PacketSize < PacketHeaderSize:
		return fmt.Errorf("%w: packet size must be at least the %d byte "+
			"header", ErrConfigInvalid, PacketHeaderSize)
	case c.BasePort < 0 || c.BasePort > 65535:
		return fmt.Errorf("%w: base port out of range", ErrConfigInvalid)
	}

	// A nil stream is fine here; only the real generator needs one.
	if _, err := NewGenerator(c.Traffic, nil); err != nil {
		return err
	}

	return nil
}

// configFile is the YAML schema of a scenario file. Durations are strings in
// Go duration syntax ("10s", "1500ms").
type configFile struct {
	Name         string  `yaml:"name"`
	Strategy     string  `yaml:"strategy"`
	Agents       int     `yaml:"agents"`
	Servers      int     `yaml:"servers"`
	Duration     string  `yaml:"duration"`
	Capacity     int     `yaml:"capacity"`
	BandwidthPPS float64 `yaml:"bandwidth_pps"`
	PacketSize   uint32  `yaml:"packet_size"`
	Seed         uint64  `yaml:"seed"`
	BasePort     int     `yaml:"base_port"`

	Traffic struct {
		Pattern      string  `yaml:"pattern"`
		Rate         float64 `yaml:"rate"`
		BurstSize    int     `yaml:"burst_size"`
		BurstPeriod  string  `yaml:"burst_period"`
		BaseRate     float64 `yaml:"base_rate"`
		PeakRate     float64 `yaml:"peak_rate"`
		PeakDuration string  `yaml:"peak_duration"`
		Cycle        string  `yaml:"cycle"`
	} `yaml:"traffic"`
}

// LoadConfig reads a YAML scenario file and overlays it onto the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	var file configFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if file.Name != "" {
		cfg.Name = file.Name
	}
	if file.Strategy != "" {
		cfg.Strategy = file.Strategy
	}
	if file.Agents != 0 {
		cfg.Agents = file.Agents
	}
	if file.Servers != 0 {
		cfg.Servers = file.Servers
	}
	if file.Capacity != 0 {
		cfg.Capacity = file.Capacity
	}
	if file.BandwidthPPS != 0 {
		cfg.BandwidthPPS = file.BandwidthPPS
	}
	if file.PacketSize != 0 {
		cfg.PacketSize = file.PacketSize
	}
	if file.Seed != 0 {
		cfg.Seed = file.Seed
	}
	if file.BasePort != 0 {
		cfg.BasePort = file.BasePort
	}

	if err := overlayDuration(&cfg.Duration, file.Duration); err != nil {
		return cfg, err
	}

	if file.Traffic.Pattern != "" {
		cfg.Traffic = TrafficSpec{
			Pattern:   file.Traffic.Pattern,
			Rate:      file.Traffic.Rate,
			BurstSize: file.Traffic.BurstSize,
			BaseRate:  file.Traffic.BaseRate,
			PeakRate:  file.Traffic.PeakRate,
		}
		if err := overlayDuration(
			&cfg.Traffic.BurstPeriod, file.Traffic.BurstPeriod); err != nil {
			return cfg, err
		}
		if err := overlayDuration(
			&cfg.Traffic.PeakDuration, file.Traffic.PeakDuration); err != nil {
			return cfg, err
		}
		if err := overlayDuration(
			&cfg.Traffic.Cycle, file.Traffic.Cycle); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func overlayDuration(dst *time.Duration, s string) error {
	if s == "" {
		return nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%w: duration %q", ErrConfigInvalid, s)
	}
	*dst = d

	return nil
}
