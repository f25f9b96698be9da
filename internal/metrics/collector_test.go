package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.RecordEvent("bot1", "ok", time.Millisecond)
		c.RecordTransition("bot1", "local")
		c.RecordInfiniteLoop("bot1")
		c.RecordSuggestion("bot1", "elected")
		c.RecordGuardEval(true, time.Millisecond)
		c.RecordFlowCacheFill("bot1")
		c.RecordSweep(1, 2, 3)
	})
}

func TestCollectorRecords(t *testing.T) {
	// promauto registers on the default registry, so the namespace must
	// be unique to this test.
	c := NewCollector("collector_records_test", zaptest.NewLogger(t))

	assert.NotPanics(t, func() {
		c.RecordEvent("bot1", "ok", 5*time.Millisecond)
		c.RecordEvent("bot1", "error", 7*time.Millisecond)
		c.RecordTransition("bot1", "enter_flow")
		c.RecordInfiniteLoop("bot1")
		c.RecordSuggestion("bot1", "dropped")
		c.RecordGuardEval(false, time.Microsecond)
		c.RecordGuardEval(true, time.Millisecond)
		c.RecordFlowCacheFill("bot1")
		c.RecordSweep(2, 1, 0)
	})
}
