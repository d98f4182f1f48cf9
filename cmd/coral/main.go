package main

import (
	"fmt"
	"os"

	"github.com/coraldb/coral/pkg/log"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	logLevel    string
	logJSON     bool
	dataDirFlag string
)

var rootCmd = &cobra.Command{
	Use:     "coral",
	Version: version,
	Short:   "coral operates a CoralDB replication and durability node",
	Long: `coral is the operator and CLI front-end for CoralDB's replication and
durability core: it forms and grows Raft clusters, starts nodes, inspects
cluster state, and submits command batches standing in for the SQL
frontend that is out of scope for this layer.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := log.InfoLevel
		switch logLevel {
		case "debug":
			level = log.DebugLevel
		case "warn":
			level = log.WarnLevel
		case "error":
			level = log.ErrorLevel
		}
		log.Init(log.Config{Level: level, JSONOutput: logJSON})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "./data", "node data directory")

	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(execCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
