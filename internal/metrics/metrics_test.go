package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RoomsCreated.Inc()
	m.Settlements.WithLabelValues("applied").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RoomsCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Settlements.WithLabelValues("applied")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
