package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct{}

func (fakeStats) MetadataCount() int      { return 3 }
func (fakeStats) PacketCount() int        { return 2 }
func (fakeStats) FileStats() (int, int64) { return 4, 1024 }

func TestQueryAndIngestCounters(t *testing.T) {
	m := New()

	m.ObserveQuery("ok", time.Millisecond)
	m.ObserveQuery("ok", time.Millisecond)
	m.ObserveQuery("parse_error", time.Millisecond)
	m.ObserveCache("hit")
	m.RecordIngest(nil)
	m.RecordIngest(errors.New("bad"))
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("parse_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventClients))
}

func TestHandlerExposesRepositoryGauges(t *testing.T) {
	m := New()
	m.RegisterRepository(fakeStats{})
	m.RecordRequest("GET", "/metadata/list", "200", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "outpack_server_metadata_total 3")
	assert.Contains(t, text, "outpack_server_packets_total 2")
	assert.Contains(t, text, "outpack_server_files_total 4")
	assert.Contains(t, text, "outpack_server_file_size_bytes_total 1024")
	assert.Contains(t, text, `outpack_server_http_requests_total{method="GET",route="/metadata/list",status="200"} 1`)
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveCache("miss")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheLookups.WithLabelValues("miss")))
}
