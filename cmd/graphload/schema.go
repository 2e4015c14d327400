package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"graphload/internal/config"
	"graphload/internal/datasource"
)

var resetStore bool

func init() {
	schemaCmd.Flags().BoolVar(&resetStore, "reset", false, "drop all graph data first (overrides schema.reset)")
	rootCmd.AddCommand(schemaCmd, validateCmd)
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Declare labels, property keys and the key index on the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		job, err := loadJob(configPath, nil)
		if err != nil {
			return err
		}
		a, err := openApp(ctx, job)
		if err != nil {
			return err
		}
		defer a.Close()

		vsrc, err := datasource.Expand(job.Vertices.Paths, a.http)
		if err != nil {
			return err
		}
		esrc, err := datasource.Expand(job.Edges.Paths, a.http)
		if err != nil {
			return err
		}
		if err := a.bootstrap(ctx, vsrc, esrc, resetStore || job.Schema.Reset); err != nil {
			return err
		}
		a.logCounts(ctx)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the job file without touching the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := config.Load(configPath)
		if err != nil {
			return err
		}
		issues := config.ValidateJob(job)
		printIssues(os.Stderr, issues)
		if config.HasErrors(issues) {
			return fmt.Errorf("%s: %d issues", configPath, len(issues))
		}
		log.Printf("validate: %s ok (%d warnings)", configPath, len(issues))
		return nil
	},
}
