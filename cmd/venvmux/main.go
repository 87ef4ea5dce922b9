// Command venvmux multiplexes one editor's LSP connection across a
// population of Python-venv-bound language-server backends, spawning
// and retiring them on demand as the editor opens documents in
// different virtualenvs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "venvmux",
		Short: "Multiplex one LSP client connection across per-venv language-server backends",
		Long:  "venvmux speaks LSP over stdio to a single editor and routes requests to pyright/ty/pyrefly backends, one per Python virtualenv, spawning and evicting them as documents are opened and closed.",
	}

	cfg := bindFlags(rootCmd)
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runVenvmux(cfg)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
