// Package main is the entry point for the orchestrator binary.
package main

import (
	"fmt"
	"os"

	"github.com/beehive-labs/swarm-orchestrator/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
