// Command docqa is the entry point for the document question-answering
// pipeline. It provides a CLI interface (via Cobra) and an HTTP server
// exposing the pipeline as a REST API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
