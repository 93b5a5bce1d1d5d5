package validkit

import (
	"errors"
	"strings"

	"github.com/plainq/mailrelay/errkit"
)

const (
	fieldType    = "field"
	bodyLocation = "body"
)

// Errors is an ordered list of rejected fields. The first entry is the
// summary message of the response.
type Errors []errkit.FieldError

func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}

	msgs := make([]string, 0, len(e))
	for _, fe := range e {
		if fe.Path == "" {
			msgs = append(msgs, fe.Msg)
			continue
		}

		msgs = append(msgs, fe.Path+": "+fe.Msg)
	}

	return "validation failed: " + strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, errkit.ErrValidation) hold for any Errors value.
func (Errors) Is(target error) bool { return target == errkit.ErrValidation }

// Summary returns the message of the first error.
func (e Errors) Summary() string {
	if len(e) == 0 {
		return ""
	}

	return e[0].Msg
}

func (e *Errors) add(path, msg string) {
	*e = append(*e, errkit.FieldError{
		Type:     fieldType,
		Msg:      msg,
		Path:     path,
		Location: bodyLocation,
	})
}

// Extract returns the Errors found in err's chain.
func Extract(err error) (Errors, bool) {
	var out Errors
	if errors.As(err, &out) {
		return out, true
	}

	return nil, false
}
