//go:build !ios && !android && (amd64 || arm64)

// Command gosparse inspects the CUDA and cuSPARSE installation and exercises
// the handle lifecycle on a real device.
package main

import (
	"context"

	"github.com/spf13/cobra"
)

func main() {
	cobra.CheckErr(NewCLI().ExecuteContext(context.Background()))
}
