package validkit

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strings"
)

// Document is a decoded JSON object.
type Document = map[string]any

// Rule checks one aspect of a document.
type Rule interface {
	Check(doc Document) Errors
}

// RuleFunc adapts an ordinary function to the Rule interface.
type RuleFunc func(doc Document) Errors

func (f RuleFunc) Check(doc Document) Errors { return f(doc) }

// Apply runs rules in order and collects every error.
func Apply(doc Document, rules ...Rule) Errors {
	var errs Errors

	for _, rule := range rules {
		errs = append(errs, rule.Check(doc)...)
	}

	return errs
}

// RequiredEmail requires Field to be a single valid address.
type RequiredEmail struct {
	Field string
	Msg   string
}

func (r RequiredEmail) Check(doc Document) Errors {
	var errs Errors

	if s, ok := doc[r.Field].(string); !ok || !IsEmail(s) {
		errs.add(r.Field, r.Msg)
	}

	return errs
}

// EmailList requires Field to be an array of addresses.
// An absent optional list is valid.
type EmailList struct {
	Field    string
	Required bool
	NonEmpty bool
	ArrayMsg string
	ItemMsg  string
}

func (r EmailList) Check(doc Document) Errors {
	var errs Errors

	v, present := doc[r.Field]
	if !present {
		if r.Required {
			errs.add(r.Field, r.ArrayMsg)
		}

		return errs
	}

	list, ok := v.([]any)
	if !ok || (r.NonEmpty && len(list) == 0) {
		errs.add(r.Field, r.ArrayMsg)
		return errs
	}

	for i, item := range list {
		if s, ok := item.(string); !ok || !IsEmail(s) {
			errs.add(fmt.Sprintf("%s[%d]", r.Field, i), r.ItemMsg)
		}
	}

	return errs
}

// NonEmptyString requires Field, when present or Required, to be a non-empty string.
type NonEmptyString struct {
	Field    string
	Required bool
	Msg      string
}

func (r NonEmptyString) Check(doc Document) Errors {
	var errs Errors

	v, present := doc[r.Field]
	if !present && !r.Required {
		return errs
	}

	if s, ok := v.(string); !ok || s == "" {
		errs.add(r.Field, r.Msg)
	}

	return errs
}

// OptionalString requires Field, when present, to be a string.
type OptionalString struct {
	Field string
	Msg   string
}

func (r OptionalString) Check(doc Document) Errors {
	var errs Errors

	if v, present := doc[r.Field]; present {
		if _, ok := v.(string); !ok {
			errs.add(r.Field, r.Msg)
		}
	}

	return errs
}

// Exclusive requires exactly one of A and B to hold a truthy value.
type Exclusive struct {
	A, B string
	Path string
	Msg  string
}

func (r Exclusive) Check(doc Document) Errors {
	var errs Errors

	if truthy(doc[r.A]) == truthy(doc[r.B]) {
		errs.add(r.Path, r.Msg)
	}

	return errs
}

// ClosedSchema rejects any key outside Allowed. Offending keys are
// reported sorted in a single error.
type ClosedSchema struct {
	Allowed []string
	Prefix  string
}

func (r ClosedSchema) Check(doc Document) Errors {
	var (
		errs  Errors
		extra []string
	)

	for key := range doc {
		if !slices.Contains(r.Allowed, key) {
			extra = append(extra, key)
		}
	}

	if len(extra) > 0 {
		slices.Sort(extra)
		errs.add("", r.Prefix+strings.Join(extra, ", "))
	}

	return errs
}

// Base64String requires Field, when it holds a non-empty string, to be
// standard base64. Values of other types are left to OptionalString.
type Base64String struct {
	Field string
	Msg   string
}

func (r Base64String) Check(doc Document) Errors {
	var errs Errors

	if s, ok := doc[r.Field].(string); ok && s != "" {
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			errs.add(r.Field, r.Msg)
		}
	}

	return errs
}

// ObjectArray requires Field, when present, to be an array whose
// elements are objects, each checked by Item independently.
type ObjectArray struct {
	Field     string
	ArrayMsg  string
	ObjectMsg string
	Item      func(path string, obj Document) Errors
}

func (r ObjectArray) Check(doc Document) Errors {
	var errs Errors

	v, present := doc[r.Field]
	if !present {
		return errs
	}

	list, ok := v.([]any)
	if !ok {
		errs.add(r.Field, r.ArrayMsg)
		return errs
	}

	for i, item := range list {
		path := fmt.Sprintf("%s[%d]", r.Field, i)

		obj, ok := item.(map[string]any)
		if !ok {
			errs.add(path, r.ObjectMsg)
			continue
		}

		errs = append(errs, r.Item(path, obj)...)
	}

	return errs
}

// IsEmail reports whether s is a bare address: no display name, no
// angle brackets and a dotted domain.
func IsEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}

	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return false
	}

	domain := s[at+1:]
	if !strings.Contains(domain, ".") {
		return false
	}

	for part := range strings.SplitSeq(domain, ".") {
		if part == "" {
			return false
		}
	}

	return true
}

// IsHTTPURL reports whether s is an absolute http or https URL with a host.
func IsHTTPURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	if err != nil {
		return false
	}

	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}
