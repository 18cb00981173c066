package main

import (
	"os"

	"github.com/spf13/cobra"

	"redisq/internal/cli"
	"redisq/internal/clog"
)

var rootCmd = &cobra.Command{
	Use:   "redisq-cli",
	Short: "An interactive client for a Redis-protocol server",
	Long: `redisq-cli connects to a Redis-protocol server and either drops
into an interactive REPL or runs a single command, a command file, or a
stream of commands piped over stdin.`,
	Run: func(cmd *cobra.Command, args []string) {
		logLevel := clog.Level(getStringFlag(cmd, "log-level", "info"))
		clog.Init(logLevel)

		cfg := &cli.Config{
			Host:     getStringFlag(cmd, "host", "127.0.0.1"),
			Port:     getIntFlag(cmd, "port", 6379),
			Password: getStringFlag(cmd, "password", ""),
			Database: getIntFlag(cmd, "db", 0),
			Raw:      getBoolFlag(cmd, "raw"),
			Eval:     getStringFlag(cmd, "eval", ""),
			File:     getStringFlag(cmd, "file", ""),
			Pipe:     getBoolFlag(cmd, "pipe"),
		}

		cli.Run(cfg, args)
	},
}

// Execute adds child commands to root and sets flags appropriately.
// Called by main.main(). Only needs to happen once to rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("host", "127.0.0.1", "Server host")
	rootCmd.Flags().Int("port", 6379, "Server port")
	rootCmd.Flags().String("password", "", "Password for AUTH")
	rootCmd.Flags().Int("db", 0, "Database index to SELECT on connect")
	rootCmd.Flags().Bool("raw", false, "Print raw reply values instead of the formatted view")
	rootCmd.Flags().String("eval", "", "Run a single command and exit")
	rootCmd.Flags().String("file", "", "Run commands read from a file, one per line")
	rootCmd.Flags().Bool("pipe", false, "Run commands read from stdin, one per line")
}

func getStringFlag(cmd *cobra.Command, name, defaultValue string) string {
	if value, err := cmd.Flags().GetString(name); err == nil && value != "" {
		return value
	}
	return defaultValue
}

func getBoolFlag(cmd *cobra.Command, name string) bool {
	value, _ := cmd.Flags().GetBool(name)
	return value
}

func getIntFlag(cmd *cobra.Command, name string, defaultValue int) int {
	if value, err := cmd.Flags().GetInt(name); err == nil {
		return value
	}
	return defaultValue
}

func main() {
	Execute()
}
