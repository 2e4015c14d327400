// Command graphload bulk-loads vertex and edge CSV files into a graph store.
//
// Usage:
//
//	graphload run      -c job.yaml            # schema, vertices, then edges
//	graphload vertices -c job.yaml [FILE...]  # vertex files only
//	graphload edges    -c job.yaml [FILE...]  # edge files only
//	graphload schema   -c job.yaml [--reset]  # declare the schema only
//	graphload validate -c job.yaml
//	graphload probe    data/people.csv        # propose a job file
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	_ "graphload/internal/graph/all"
)

var (
	configPath  string
	verbose     bool
	allowAborts bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "graphload.yaml", "job file (.json, .yaml or .yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().BoolVar(&allowAborts, "allow-aborts", false, "exit 0 even when batches were aborted")
}

var rootCmd = &cobra.Command{
	Use:           "graphload",
	Short:         "Concurrent CSV-to-graph bulk loader",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("graphload: %v", err)
		os.Exit(1)
	}
}
