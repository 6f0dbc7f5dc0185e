package simulation

import "github.com/flocklab/flocknet/sim"

// Builder can be used to build a simulation.
type Builder struct {
	cfg         sim.Config
	monitorOn   bool
	monitorPort int
	openBrowser bool
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{cfg: sim.DefaultConfig()}
}

// WithConfig sets the run configuration.
func (b Builder) WithConfig(cfg sim.Config) Builder {
	b.cfg = cfg
	return b
}

// WithMonitoring enables the live monitoring web server. Port 0 picks a
// random free port.
func (b Builder) WithMonitoring(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port
	return b
}

// WithDashboard makes the monitor open its dashboard in a browser once the
// run starts. Implies monitoring.
func (b Builder) WithDashboard() Builder {
	b.monitorOn = true
	b.openBrowser = true
	return b
}

// Build builds the simulation. The configuration is validated in Run so a
// failed validation still yields a Run record.
func (b Builder) Build() *Simulation {
	return newSimulation(b)
}
