package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"graphload/internal/config"
	"graphload/internal/datasource"
	"graphload/internal/datasource/file"
	"graphload/internal/loader"
)

var (
	skipSchema bool
	listPath   string
)

func init() {
	runCmd.Flags().BoolVar(&skipSchema, "skip-schema", false, "do not declare the schema before loading")
	for _, c := range []*cobra.Command{vertexCmd, edgeCmd} {
		c.Flags().StringVar(&listPath, "list", "", "file listing input paths, one per line")
	}
	rootCmd.AddCommand(runCmd, vertexCmd, edgeCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Declare the schema, then load every vertex file and every edge file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execute(cmd.Context(), loadBoth, nil)
	},
}

var vertexCmd = &cobra.Command{
	Use:   "vertices [FILE|DIR|URL...]",
	Short: "Load vertex files; arguments replace vertices.paths of the job",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := inputPaths(args, listPath)
		if err != nil {
			return err
		}
		return execute(cmd.Context(), loadVerticesOnly, paths)
	},
}

var edgeCmd = &cobra.Command{
	Use:   "edges [FILE|DIR|URL...]",
	Short: "Load edge files; arguments replace edges.paths of the job",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := inputPaths(args, listPath)
		if err != nil {
			return err
		}
		return execute(cmd.Context(), loadEdgesOnly, paths)
	},
}

// inputPaths joins positional arguments and the --list file.
func inputPaths(args []string, list string) ([]string, error) {
	paths := append([]string(nil), args...)
	if list != "" {
		more, err := file.ReadList(list)
		if err != nil {
			return nil, err
		}
		paths = append(paths, more...)
	}
	return paths, nil
}

// mode selects which inputs a command loads.
type mode int

const (
	loadBoth mode = iota
	loadVerticesOnly
	loadEdgesOnly
)

// execute runs a load command end to end. paths, when set, replace the job
// paths of the selected kind.
func execute(ctx context.Context, m mode, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := loadJob(configPath, func(j *config.Job) {
		switch {
		case m == loadVerticesOnly && len(paths) > 0:
			j.Vertices.Paths = paths
		case m == loadEdgesOnly && len(paths) > 0:
			j.Edges.Paths = paths
		}
	})
	if err != nil {
		return err
	}
	flush, err := setupMetrics(job)
	if err != nil {
		return err
	}
	defer flush()

	a, err := openApp(ctx, job)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("graphload: close: %v", err)
		}
	}()

	o, err := a.run(ctx, m, !skipSchema && m == loadBoth)
	log.Printf("graphload: job=%s %s", job.Name, o)
	a.logCounts(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	return o.err(allowAborts)
}

// run loads the inputs selected by m, vertices before edges.
func (a *app) run(ctx context.Context, m mode, declare bool) (outcome, error) {
	start := time.Now()
	var vsrc, esrc []datasource.Source
	var err error
	if m != loadEdgesOnly {
		if vsrc, err = datasource.Expand(a.job.Vertices.Paths, a.http); err != nil {
			return outcome{}, fmt.Errorf("vertices: %w", err)
		}
	}
	if m != loadVerticesOnly {
		if esrc, err = datasource.Expand(a.job.Edges.Paths, a.http); err != nil {
			return outcome{}, fmt.Errorf("edges: %w", err)
		}
	}
	log.Printf("graphload: job=%s store=%s vertex_files=%d edge_files=%d", a.job.Name, a.job.Store.Kind, len(vsrc), len(esrc))

	if declare {
		if err := a.bootstrap(ctx, vsrc, esrc, a.job.Schema.Reset); err != nil {
			return outcome{}, err
		}
	}

	var reports []*loader.Report
	rv, err := a.loadAll(ctx, "vertices", vsrc, a.loadVertexSource)
	reports = append(reports, rv...)
	if err != nil {
		return summarize(reports), err
	}
	if o := summarize(reports); o.cancelled || ctx.Err() != nil {
		o.cancelled = true
		return o, nil
	}
	re, err := a.loadAll(ctx, "edges", esrc, a.loadEdgeSource)
	reports = append(reports, re...)
	o := summarize(reports)
	o.cancelled = o.cancelled || ctx.Err() != nil
	log.Printf("graphload: job=%s done elapsed=%s", a.job.Name, time.Since(start).Truncate(time.Millisecond))
	return o, err
}
