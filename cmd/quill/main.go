// quill is the orchestration engine for conversational document editing: it
// classifies natural-language requests, routes them through staged
// workflows, applies the resulting edits atomically, and streams progress
// back over a duplex channel with an HTTP fallback.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

func main() {
	root := &cobra.Command{
		Use:          "quill",
		Short:        "Conversational document-editing engine",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
