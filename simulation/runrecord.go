package simulation

import (
	"fmt"

	"github.com/flocklab/flocknet/metrics"
	"github.com/flocklab/flocknet/sim"
)

// StatusOK marks a run that completed normally.
const StatusOK = "ok"

// FailedStatus renders the status string of a failed run.
func FailedStatus(kind sim.FailureKind) string {
	return fmt.Sprintf("failed(%s)", kind)
}

// A RunRecord is the complete per-simulation result artifact, emitted
// exactly once at finalization. A failed run still emits a partial record
// with the failure kind in Status.
type RunRecord struct {
	ID     string     `json:"id"`
	Config sim.Config `json:"config"`
	Status string     `json:"status"`

	// Ports are the actually bound listener ports, in server id order.
	Ports []int `json:"ports"`

	Snapshots []metrics.Snapshot    `json:"snapshots"`
	PerServer []metrics.ServerStats `json:"per_server"`
	PerFlow   []metrics.FlowStats   `json:"per_flow"`
	Aggregate metrics.Aggregate     `json:"aggregate"`
}

// OK reports whether the run completed normally.
func (r *RunRecord) OK() bool {
	return r.Status == StatusOK
}
