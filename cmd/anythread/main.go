// Command anythread exercises redirected calls against a live event loop.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "anythread",
		Short:         "Cross-goroutine method invocation onto an event loop",
		Long:          "Drive redirected calls from many goroutines onto a single owner event loop, and verify the results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(soakCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
