package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cobra.EnableCommandSorting = false

	rootCmd := chatCmd()
	rootCmd.AddCommand(
		serversCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "randchat: %s\n", err)
		os.Exit(1)
	}
}
