package metrics

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterExposesCounters(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg, "pi_receiver"))

	atomic.AddInt64(&m.IngestAcceptedTotal, 3)
	atomic.StoreInt64(&m.ObserversCurrent, 2)

	expected := `
# HELP pi_receiver_ingest_accepted_total reports normalized and broadcast
# TYPE pi_receiver_ingest_accepted_total counter
pi_receiver_ingest_accepted_total 3
# HELP pi_receiver_observers_current connected observer sessions
# TYPE pi_receiver_observers_current gauge
pi_receiver_observers_current 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pi_receiver_ingest_accepted_total", "pi_receiver_observers_current"))
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg, "pi_receiver"))
	require.Error(t, m.Register(reg, "pi_receiver"))
}

func TestString(t *testing.T) {
	m := New()
	atomic.AddInt64(&m.BlobSaveErrorsTotal, 1)

	out := m.String()
	require.Contains(t, out, "blob_save_errors_total=1\n")
	require.Contains(t, out, "history_size=0\n")
}
