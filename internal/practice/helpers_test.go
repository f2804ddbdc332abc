package practice

import (
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/scriptcoach/internal/observe"
)

// testMetrics returns metrics backed by a no-op provider so tests do not
// share the global instruments.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func mustScenario(t *testing.T, id string) Scenario {
	t.Helper()
	sc, ok := LookupScenario(id)
	if !ok {
		t.Fatalf("scenario %q not found", id)
	}
	return sc
}
