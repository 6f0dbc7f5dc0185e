// Package cmd provides the command-line interface for FlockNet.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/flocklab/flocknet/sim"
)

// Exit codes.
const (
	exitOK            = 0
	exitInvalidConfig = 2
	exitRuntime       = 3
	exitTimeout       = 4
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use: "flocknet",
	Short: "FlockNet benchmarks Active Queue Management strategies in " +
		"swarm topologies.",
	Long: `FlockNet benchmarks Active Queue Management strategies in swarm ` +
		`topologies: many lightweight agents send packets to a small pool ` +
		`of servers over bandwidth-limited, buffer-bounded links, and the ` +
		`harness measures throughput, loss, sojourn latency, jitter and ` +
		`queue occupancy per strategy.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It exits the process with the contractual exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(exitCode(err))
	}

	atexit.Exit(exitOK)
}

func exitCode(err error) int {
	switch sim.Classify(err) {
	case sim.FailConfigInvalid:
		return exitInvalidConfig
	case sim.FailTimeout:
		return exitTimeout
	default:
		return exitRuntime
	}
}
