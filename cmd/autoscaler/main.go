// Command autoscaler starts the adaptive autoscaler described in
// SPEC_FULL.md: event ingress, replica control, memory-limit optimisation,
// node health monitoring, and node-pool scaling for a single workload.
package main

import (
	"fmt"
	"os"

	"github.com/pulsehq/autoscaler/cmd/autoscaler/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
