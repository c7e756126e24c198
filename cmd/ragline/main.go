// Command ragline is the entry point for the ragline adaptive
// question-answering service. It provides a CLI interface (via Cobra) and an
// HTTP server exposing the question-answering and ingestion API.
package main

import (
	"fmt"
	"os"

	"github.com/kb4n0/ragline-go/cmd/ragline/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
