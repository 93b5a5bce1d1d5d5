package gatekit

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// Stage names used in logs and metrics.
const (
	StageIdentity  = "identity"
	StageTransport = "transport"
	StageOrigin    = "origin"
	StagePayload   = "payload"
	StageRate      = "rate"
	StageDeliver   = "deliver"
)

// Step is a named Stage.
type Step struct {
	Name  string
	Stage Stage
}

// Pipeline runs its steps in order until one of them stops the request.
type Pipeline struct {
	steps    []Step
	reporter *Reporter
}

// NewPipeline returns a Pipeline. A nil reporter is replaced by one
// writing to slog.Default.
func NewPipeline(reporter *Reporter, steps ...Step) *Pipeline {
	if reporter == nil {
		reporter = NewReporter(nil)
	}

	return &Pipeline{steps: steps, reporter: reporter}
}

// PanicError wraps a value recovered from a panicking stage.
type PanicError struct {
	Stage string
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic in %s stage: %v", e.Stage, e.Value) }

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

	var stage string

	defer func() {
		rec := recover()
		if rec == nil {
			return
		}

		if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel value comparison.
			panic(rec)
		}

		err := &PanicError{Stage: stage, Value: rec}

		// Too late to change the response, only log it.
		if ww.Status() != 0 {
			p.reporter.Log(r, stage, ww.Status(), err)
			return
		}

		p.reporter.Report(ww, r, stage, err)
	}()

	for _, step := range p.steps {
		stage = step.Name

		v := step.Stage.Admit(ww, r)

		switch v.Kind() {
		case KindContinue:
			if v.Request() != nil {
				r = v.Request()
			}

		case KindRedirect:
			http.Redirect(ww, r, v.Location(), v.Status())
			return

		case KindDone:
			return

		case KindReject:
			p.reporter.Report(ww, r, stage, v.Err())
			return

		default:
			p.reporter.Report(ww, r, stage, fmt.Errorf("stage %s returned an empty verdict", stage))
			return
		}
	}
}
