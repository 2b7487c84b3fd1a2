// Command dpkid runs one node of the replicated certificate authority: a
// CometBFT ABCI socket server backed by pkg/abciapp, plus an admin HTTP
// server for health and metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dpkid",
		Short: "dpkid",
		Long: `dpkid runs one node of a BFT-replicated certificate authority.

It validates and stores X.509 certificate signing requests and
certificates through a CometBFT consensus application, and, when
configured with a CA key, signs downstream certificates within its
position in the naming hierarchy.`,
	}

	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newHealthCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
