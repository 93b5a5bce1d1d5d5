package statuspage

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/maxatome/go-testdeep/td"
)

func TestRenderStatus(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Healthy", func(t *testing.T) {
		var buf bytes.Buffer

		td.CmpNoError(t, RenderStatus(&buf, Report{
			Service:   "mailrelay",
			Healthy:   true,
			CheckedAt: at,
			Checks:    []Check{{Name: "smtp", Healthy: true, Latency: 12 * time.Millisecond}},
		}))

		td.Cmp(t, buf.String(), td.All(
			td.Contains("All systems operational"),
			td.Contains("<td>smtp</td>"),
			td.Contains("12ms"),
			td.Contains("2024-05-01T12:00:00Z"),
		))
	})

	t.Run("Degraded", func(t *testing.T) {
		var buf bytes.Buffer

		td.CmpNoError(t, RenderStatus(&buf, Report{
			Service: "mailrelay",
			Checks:  []Check{{Name: "redis", Error: "dial <tcp>: refused"}},
		}, WithError(errors.New("redis is down"))))

		td.Cmp(t, buf.String(), td.All(
			td.Contains("Degraded: redis is down"),
			td.Contains(`class="state down"`),
			td.Contains("dial &lt;tcp&gt;: refused"),
		))
	})
}
