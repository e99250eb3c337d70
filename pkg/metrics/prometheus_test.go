package metrics

import (
	"testing"
	"time"

	"TradePipe/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordEventProcessed("price", models.EventKindTrade, time.Millisecond)
	r.RecordEventProcessed("price", models.EventKindTrade, time.Millisecond)
	r.RecordError("executor:kafka", "execute")
	r.RecordStateSize("price", 12)
	r.RecordTick("echo", "ok")
	r.RecordActionDispatched("log", "ok")
	r.RecordQueryLatency("price", 2*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.eventsProcessed.WithLabelValues("price", "trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("executor:kafka", "execute")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.stateSize.WithLabelValues("price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticksTotal.WithLabelValues("echo", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actionsTotal.WithLabelValues("log", "ok")))
}

func TestRecordersAreIsolatedPerRegistry(t *testing.T) {
	// two recorders on separate registries must not collide
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())
	a.RecordTick("echo", "incomplete")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ticksTotal.WithLabelValues("echo", "incomplete")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ticksTotal.WithLabelValues("echo", "incomplete")))
}

func TestNewRegistryGathers(t *testing.T) {
	reg := NewRegistry()
	New(reg).RecordTick("echo", "ok")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tradepipe_ticks_total"])
	assert.True(t, names["go_goroutines"])
}
