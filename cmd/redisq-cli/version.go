package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("redisq-cli %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
	},
}
