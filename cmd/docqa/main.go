// Command docqa is the entry point for the document question-answering
// pipeline. It provides a CLI interface (via Cobra) for ingestion and
// one-shot questions, and an HTTP server for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/docqa-dev/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
