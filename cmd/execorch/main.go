// Package main provides the entry point for the execorch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/agentcore/execorch/cmd/execorch/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
