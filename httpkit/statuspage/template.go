// Package statuspage renders the HTML health report of the relay.
package statuspage

import (
	"embed"
	"html/template"
	"io"
	"time"
)

var (
	//go:embed status.html
	assets     embed.FS
	statusPage = template.Must(template.New("status.html").Funcs(template.FuncMap{
		"ms": func(d time.Duration) string { return d.Round(time.Millisecond).String() },
	}).ParseFS(assets, "status.html"))
)

// Check is the outcome of a single dependency check.
type Check struct {
	Name    string
	Healthy bool
	Error   string
	Latency time.Duration
}

// Report is the data shown on the status page.
type Report struct {
	Service   string
	Healthy   bool
	CheckedAt time.Time
	Checks    []Check
}

type renderOptions struct {
	err error
}

// Option defines a function that configures the rendering options.
type Option func(*renderOptions)

// WithError shows err as the overall failure reason.
func WithError(err error) Option {
	return func(o *renderOptions) { o.err = err }
}

// RenderStatus renders the health status page.
func RenderStatus(w io.Writer, report Report, options ...Option) error {
	renderOpts := renderOptions{}

	for _, option := range options {
		option(&renderOpts)
	}

	data := struct {
		Report Report
		Error  error
	}{
		Report: report,
		Error:  renderOpts.err,
	}

	return statusPage.Execute(w, data)
}
