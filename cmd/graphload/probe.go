package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"graphload/internal/datasource/file"
	"graphload/internal/datasource/httpds"
	"graphload/internal/probe"
	"graphload/internal/webui"
)

// probePeekBytes caps how much of a remote file is sampled.
const probePeekBytes = 4 << 20

var probeFlags struct {
	rows   int
	comma  string
	sep    string
	fold   bool
	name   string
	output string
	serve  string
}

func init() {
	f := probeCmd.Flags()
	f.IntVar(&probeFlags.rows, "rows", probe.DefaultMaxRows, "number of data rows to sample")
	f.StringVar(&probeFlags.comma, "comma", ",", "field delimiter")
	f.StringVar(&probeFlags.sep, "list-separator", "", "list value separator (default \";\")")
	f.BoolVar(&probeFlags.fold, "fold", false, "propose folded ASCII property names")
	f.StringVar(&probeFlags.name, "name", "", "job name (default: file stem)")
	f.StringVarP(&probeFlags.output, "output", "o", "", "write the job file here instead of stdout")
	f.StringVar(&probeFlags.serve, "serve", "", "serve the probe form on this address, e.g. :8080")
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe FILE|URL",
	Short: "Sample a CSV file and print a job file with the inferred schema",
	Args: func(cmd *cobra.Command, args []string) error {
		if probeFlags.serve != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if probeFlags.serve != "" {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return webui.NewServer(webui.Config{Addr: probeFlags.serve, MaxBytes: probePeekBytes}).ListenAndServe(ctx)
		}
		src := args[0]
		comma, n := utf8.DecodeRuneInString(probeFlags.comma)
		if n == 0 || n != len(probeFlags.comma) {
			return fmt.Errorf("probe: --comma must be a single character, got %q", probeFlags.comma)
		}

		r, stem, err := openProbeInput(cmd, src)
		if err != nil {
			return err
		}
		defer r.Close()

		p, err := probe.Sample(r, probe.Options{
			MaxRows:       probeFlags.rows,
			Comma:         comma,
			ListSeparator: probeFlags.sep,
			FoldHeaders:   probeFlags.fold,
		})
		if err != nil {
			return err
		}
		name := probeFlags.name
		if name == "" {
			name = stem
		}
		out, err := p.YAML(name)
		if err != nil {
			return err
		}
		log.Printf("probe: file=%s rows=%d malformed=%d columns=%d", src, p.Rows, p.Malformed, len(p.Columns))
		if probeFlags.output == "" {
			_, err = cmd.OutOrStdout().Write(out)
			return err
		}
		return os.WriteFile(probeFlags.output, out, 0o644)
	},
}

// openProbeInput opens a local file, or the leading bytes of a URL.
func openProbeInput(cmd *cobra.Command, src string) (io.ReadCloser, string, error) {
	if httpds.IsURL(src) {
		c := httpds.NewClient(httpds.Config{MaxRetries: 2})
		b, err := c.FetchFirstBytes(cmd.Context(), src, probePeekBytes)
		if err != nil {
			return nil, "", err
		}
		// The last line is likely cut.
		if i := bytes.LastIndexByte(b, '\n'); i >= 0 && len(b) == probePeekBytes {
			b = b[:i+1]
		}
		return io.NopCloser(bytes.NewReader(b)), httpds.StemFromURL(src), nil
	}
	l := file.NewLocal(src)
	rc, err := l.Open(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	return rc, strings.ToLower(l.Stem()), nil
}
