package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "rampart",
		Short:   "Rampart is a forwarding gateway for chat-completion traffic",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newAuditCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
