// Command flocknet is the benchmarking harness for AQM strategies in swarm
// topologies.
package main

import (
	"github.com/joho/godotenv"

	"github.com/flocklab/flocknet/flocknet/cmd"
)

func main() {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cmd.Execute()
}
