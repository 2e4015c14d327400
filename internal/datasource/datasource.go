// Package datasource resolves job input paths to readable sources: local
// files and directories through package file, URLs through package httpds.
package datasource

import (
	"context"
	"io"

	"graphload/internal/datasource/file"
	"graphload/internal/datasource/httpds"
)

// Source is one input file.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)

	// Name identifies the input in reports and rejects.
	Name() string

	// Stem is the default label derived from the name.
	Stem() string
}

var (
	_ Source = (*file.Local)(nil)
	_ Source = (*httpds.Source)(nil)
)

// Expand turns job paths into sources. URLs are kept as single sources;
// local paths go through file.ListCSV. Order follows paths.
func Expand(paths []string, c *httpds.Client) ([]Source, error) {
	var out []Source
	for _, p := range paths {
		if httpds.IsURL(p) {
			if c == nil {
				c = httpds.NewClient(httpds.Config{})
			}
			out = append(out, httpds.NewSource(c, p))
			continue
		}
		files, err := file.ListCSV(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			out = append(out, file.NewLocal(f))
		}
	}
	return out, nil
}
