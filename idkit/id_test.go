package idkit

import (
	"strings"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/plainq/mailrelay/errkit"
)

func TestULID(t *testing.T) {
	id := ULID()

	td.Cmp(t, len(id), 26)
	td.CmpNoError(t, ValidateULID(id))
	td.Cmp(t, ValidateULID("not-a-ulid"), errkit.ErrInvalidID)
}

func TestRequestID(t *testing.T) {
	seen := make(map[string]struct{}, 100)

	for i := 0; i < 100; i++ {
		id := RequestID()
		td.CmpNoError(t, ValidateRequestID(id))

		_, dup := seen[id]
		td.CmpFalse(t, dup)
		seen[id] = struct{}{}
	}

	f := func(id string) {
		t.Helper()
		td.Cmp(t, ValidateRequestID(id), errkit.ErrInvalidID)
	}

	f("")
	f("42")
	f("6ba7b810-9dad-11d1-80b4-00c04fd430c8") // version 1
	f("{0f8fad5b-d9cb-469f-a165-70867728950e}")
}

func TestMessageID(t *testing.T) {
	id := MessageID("relay.example.com")

	local, domain, ok := strings.Cut(id, "@")
	td.CmpTrue(t, ok)
	td.Cmp(t, domain, "relay.example.com")
	td.CmpNoError(t, ValidateULID(strings.ToUpper(local)))

	td.Cmp(t, MessageID(""), td.Re(`^[0-9a-z]{26}@.+$`))
}
