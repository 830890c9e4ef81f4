package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/randchat/pkg/version"
)

func versionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, version.String())
				return
			}
			fmt.Fprintf(out, "randchat %s\n", version.Full())
			fmt.Fprintf(out, "  User-Agent: %s\n", version.UserAgent())
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version")

	return cmd
}
