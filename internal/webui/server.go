// Package webui serves the CSV probe over HTTP: an HTML form that takes an
// uploaded sample or a URL and renders the proposed job file.
//
// Routes:
//
//	GET  /          → form
//	POST /probe     → runs the probe on the upload or URL; renders inline
//	GET  /api/probe → ?url=...; returns the job file as text/yaml
package webui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"graphload/internal/datasource/httpds"
	"graphload/internal/probe"
)

// DefaultMaxBytes caps uploads and remote samples.
const DefaultMaxBytes = 4 << 20

// Config controls server startup.
type Config struct {
	Addr string

	// MaxBytes caps how much of an upload or URL is sampled.
	MaxBytes int

	// Client fetches URL samples. Defaults to a client with 2 retries.
	Client *httpds.Client
}

// Server wraps http.Server for convenience.
type Server struct {
	cfg  Config
	mux  *http.ServeMux
	tmpl *template.Template
}

// NewServer constructs a Server with routes and the page template.
func NewServer(cfg Config) *Server {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Client == nil {
		cfg.Client = httpds.NewClient(httpds.Config{MaxRetries: 2})
	}
	s := &Server{
		cfg:  cfg,
		mux:  http.NewServeMux(),
		tmpl: template.Must(template.New("index").Parse(indexHTML)),
	}
	s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Printf("webui: listening addr=%s", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/probe", s.handleProbe)
	s.mux.HandleFunc("/api/probe", s.handleAPIProbe)
}

// form is the page model; it echoes the inputs back.
type form struct {
	URL           string
	Name          string
	Rows          int
	Comma         string
	ListSeparator string
	Fold          bool
	Result        string
	Error         string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, form{Comma: ",", Rows: probe.DefaultMaxRows})
}

// handleProbe processes the form and renders a results page. An uploaded
// file wins over the URL field.
func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxBytes)+1<<20)
	if err := r.ParseMultipartForm(int64(s.cfg.MaxBytes)); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		http.Error(w, "bad form: "+err.Error(), http.StatusBadRequest)
		return
	}
	f := form{
		URL:           strings.TrimSpace(r.FormValue("url")),
		Name:          strings.TrimSpace(r.FormValue("name")),
		Comma:         r.FormValue("comma"),
		ListSeparator: r.FormValue("list_separator"),
		Fold:          r.FormValue("fold") != "",
	}
	f.Rows, _ = strconv.Atoi(r.FormValue("rows"))

	var sample []byte
	up, hdr, err := r.FormFile("file")
	switch {
	case err == nil:
		defer up.Close()
		sample, err = io.ReadAll(io.LimitReader(up, int64(s.cfg.MaxBytes)))
		if f.Name == "" {
			f.Name = strings.TrimSuffix(hdr.Filename, ".csv")
		}
	case f.URL != "":
		sample, err = s.fetch(r.Context(), f.URL)
		if f.Name == "" {
			f.Name = httpds.StemFromURL(f.URL)
		}
	default:
		err = fmt.Errorf("upload a file or enter a URL")
	}
	if err == nil {
		var out []byte
		out, err = s.propose(sample, f)
		f.Result = string(out)
	}
	if err != nil {
		f.Error = err.Error()
		w.WriteHeader(http.StatusBadRequest)
	}
	s.render(w, f)
}

// handleAPIProbe returns the job file as plain YAML so scripts can curl it.
func (s *Server) handleAPIProbe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := form{
		URL:           strings.TrimSpace(q.Get("url")),
		Name:          strings.TrimSpace(q.Get("name")),
		Comma:         q.Get("comma"),
		ListSeparator: q.Get("list_separator"),
		Fold:          q.Get("fold") == "1" || q.Get("fold") == "true",
	}
	f.Rows, _ = strconv.Atoi(q.Get("rows"))
	if f.URL == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if f.Name == "" {
		f.Name = httpds.StemFromURL(f.URL)
	}
	sample, err := s.fetch(r.Context(), f.URL)
	if err != nil {
		http.Error(w, "fetch failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	out, err := s.propose(sample, f)
	if err != nil {
		http.Error(w, "probe failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Write(out)
}

// fetch samples the head of url and drops the last, probably cut, line.
func (s *Server) fetch(ctx context.Context, url string) ([]byte, error) {
	b, err := s.cfg.Client.FetchFirstBytes(ctx, url, s.cfg.MaxBytes)
	if err != nil {
		return nil, err
	}
	if len(b) == s.cfg.MaxBytes {
		if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
			b = b[:i+1]
		}
	}
	return b, nil
}

func (s *Server) propose(sample []byte, f form) ([]byte, error) {
	comma := ','
	if f.Comma != "" {
		r, n := utf8.DecodeRuneInString(f.Comma)
		if n != len(f.Comma) {
			return nil, fmt.Errorf("comma must be a single character, got %q", f.Comma)
		}
		comma = r
	}
	p, err := probe.Sample(bytes.NewReader(sample), probe.Options{
		MaxRows:       f.Rows,
		Comma:         comma,
		ListSeparator: f.ListSeparator,
		FoldHeaders:   f.Fold,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("webui: probe name=%s rows=%d columns=%d", f.Name, p.Rows, len(p.Columns))
	return p.YAML(f.Name)
}

func (s *Server) render(w http.ResponseWriter, f form) {
	if err := s.tmpl.Execute(w, f); err != nil {
		log.Println("webui: template error:", err)
	}
}

const indexHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>graphload probe</title>
<style>
body { font-family: sans-serif; max-width: 60em; margin: 2em auto; }
label { display: block; margin: .4em 0; }
pre { background: #f4f4f4; padding: 1em; overflow-x: auto; }
.err { color: #a00; }
</style>
</head>
<body>
<h1>graphload probe</h1>
<form method="post" action="/probe" enctype="multipart/form-data">
  <label>CSV file <input type="file" name="file"></label>
  <label>or URL <input type="text" name="url" size="60" value="{{.URL}}"></label>
  <label>Job name <input type="text" name="name" value="{{.Name}}"></label>
  <label>Rows <input type="number" name="rows" value="{{.Rows}}"></label>
  <label>Delimiter <input type="text" name="comma" size="2" value="{{.Comma}}"></label>
  <label>List separator <input type="text" name="list_separator" size="2" value="{{.ListSeparator}}"></label>
  <label><input type="checkbox" name="fold" {{if .Fold}}checked{{end}}> Fold headers</label>
  <button type="submit">Probe</button>
</form>
{{if .Error}}<p class="err">{{.Error}}</p>{{end}}
{{if .Result}}<h2>Job file</h2><pre>{{.Result}}</pre>{{end}}
</body>
</html>
`
