// Package main is the entry point for the strix workflow orchestrator.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/strix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
