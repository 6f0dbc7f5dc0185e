// Package aqm provides the built-in Active Queue Management strategies and
// the registry the CLI resolves strategy names through.
package aqm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/iti/rngstream"

	"github.com/flocklab/flocknet/sim"
)

// Params carries the per-server values a strategy is constructed with. RNG
// is the server's seeded stream; strategies without probabilistic decisions
// ignore it.
type Params struct {
	Capacity     int
	PacketSize   uint32
	BandwidthPPS float64
	RNG          *rngstream.RngStream
}

// A Factory builds a fresh strategy instance for one server.
type Factory func(Params) sim.Strategy

var builtin = map[string]Factory{
	"drop-tail":    func(p Params) sim.Strategy { return NewDropTail() },
	"droptail":     func(p Params) sim.Strategy { return NewDropTail() },
	"fifo":         func(p Params) sim.Strategy { return NewFIFO() },
	"red":          func(p Params) sim.Strategy { return NewRED(p.Capacity, p.RNG) },
	"adaptive-red": func(p Params) sim.Strategy { return NewAdaptiveRED(p.Capacity, p.RNG) },
	"ared":         func(p Params) sim.Strategy { return NewAdaptiveRED(p.Capacity, p.RNG) },
	"blue":         func(p Params) sim.Strategy { return NewBLUE(p.RNG) },
	"codel":        func(p Params) sim.Strategy { return NewCoDel() },
	"pie":          func(p Params) sim.Strategy { return NewPIE(p.BandwidthPPS, p.RNG) },
	"fq-codel":     func(p Params) sim.Strategy { return NewFQCoDel(int(p.PacketSize)) },
	"fqcodel":      func(p Params) sim.Strategy { return NewFQCoDel(int(p.PacketSize)) },
}

// New resolves a strategy name and builds an instance. Unknown names are
// rejected at parse time with sim.ErrStrategyUnknown.
func New(name string, p Params) (sim.Strategy, error) {
	factory, ok := builtin[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sim.ErrStrategyUnknown, name)
	}

	return factory(p), nil
}

// List returns all registered names, aliases included, sorted.
func List() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
