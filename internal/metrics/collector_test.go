package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	c := NewCollector()

	c.LineRead()
	c.LineRead()
	c.LineSkipped(ReasonMalformed)
	c.BatchCommitted("web", 100, 20*time.Millisecond)
	c.BatchCommitted("web", 5, 2*time.Millisecond)
	c.FileCompleted("web")
	c.FileFailed("mp")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.linesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.linesSkipped.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, 105.0, testutil.ToFloat64(c.recordsWritten.WithLabelValues("web")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.batchesCommitted.WithLabelValues("web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesCompleted.WithLabelValues("web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.filesFailed.WithLabelValues("mp")))
}

func TestCollector_ActiveRuns(t *testing.T) {
	c := NewCollector()

	done := c.RunStarted("web")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeRuns))

	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("web")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.LineRead()

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ingestion_lines_read_total 1")
}
