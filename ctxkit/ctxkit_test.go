package ctxkit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
)

func TestLogErrHook(t *testing.T) {
	t.Run("Unset", func(t *testing.T) {
		hook := GetLogErrHook(context.Background())
		td.CmpNotNil(t, hook)
		hook(errors.New("ignored"))
	})

	t.Run("Set", func(t *testing.T) {
		var got error
		ctx := SetLogErrHook(context.Background(), func(err error) { got = err })

		want := errors.New("write failed")
		GetLogErrHook(ctx)(want)

		td.Cmp(t, got, want)
	})
}

func TestValues(t *testing.T) {
	ctx := context.Background()

	td.Cmp(t, RequestID(ctx), "")
	td.Cmp(t, ClientAddr(ctx), "")
	td.Cmp(t, StartTime(ctx).IsZero(), true)
	td.Cmp(t, Elapsed(ctx), time.Duration(0))

	start := time.Now().Add(-time.Second)
	ctx = WithRequestID(ctx, "0f8fad5b-d9cb-469f-a165-70867728950e")
	ctx = WithClientAddr(ctx, "203.0.113.7")
	ctx = WithStartTime(ctx, start)

	td.Cmp(t, RequestID(ctx), "0f8fad5b-d9cb-469f-a165-70867728950e")
	td.Cmp(t, ClientAddr(ctx), "203.0.113.7")
	td.Cmp(t, StartTime(ctx), start)
	td.Cmp(t, Elapsed(ctx) >= time.Second, true)
}
