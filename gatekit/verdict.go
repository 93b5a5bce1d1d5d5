// Package gatekit runs a request through an ordered list of admission
// stages. A stage lets the request continue, redirects it, answers it
// itself or rejects it with an error that the Reporter turns into a
// response.
package gatekit

import "net/http"

// Kind of a Verdict.
type Kind uint8

const (
	// KindContinue hands the request to the next stage.
	KindContinue Kind = iota + 1

	// KindRedirect ends the pipeline with a redirect.
	KindRedirect

	// KindDone ends the pipeline, the stage has written the response.
	KindDone

	// KindReject ends the pipeline with an error response.
	KindReject
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindRedirect:
		return "redirect"
	case KindDone:
		return "done"
	case KindReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of a single stage.
type Verdict struct {
	kind     Kind
	req      *http.Request
	location string
	status   int
	err      error
}

// Continue passes r, possibly with an enriched context, to the next stage.
func Continue(r *http.Request) Verdict { return Verdict{kind: KindContinue, req: r} }

// Redirect ends the pipeline by redirecting to location with status.
func Redirect(location string, status int) Verdict {
	return Verdict{kind: KindRedirect, location: location, status: status}
}

// Done ends the pipeline. The stage already wrote the response.
func Done() Verdict { return Verdict{kind: KindDone} }

// Reject ends the pipeline with err.
func Reject(err error) Verdict { return Verdict{kind: KindReject, err: err} }

func (v Verdict) Kind() Kind             { return v.kind }
func (v Verdict) Request() *http.Request { return v.req }
func (v Verdict) Location() string       { return v.location }
func (v Verdict) Status() int            { return v.status }
func (v Verdict) Err() error             { return v.err }

// Stage is one admission check.
type Stage interface {
	Admit(w http.ResponseWriter, r *http.Request) Verdict
}

// StageFunc adapts an ordinary function to the Stage interface.
type StageFunc func(w http.ResponseWriter, r *http.Request) Verdict

func (f StageFunc) Admit(w http.ResponseWriter, r *http.Request) Verdict { return f(w, r) }
