package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/bbdrain/engine"
	"github.com/franksops/bbdrain/provider"
)

func TestCollector_Operations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveOperation(engine.OpCopy, engine.OutcomeCompleted, 3*time.Millisecond)
	c.ObserveOperation(engine.OpCopy, engine.OutcomeCompleted, time.Millisecond)
	c.ObserveOperation(engine.OpWrite, engine.OutcomeSkipped, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("Copy", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("Write", "skipped")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.operationDuration))
}

func TestCollector_Bytes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveBytes(engine.DirectionRead, 4096, 4096)
	c.ObserveBytes(engine.DirectionWrite, 4096, 1000)

	assert.Equal(t, 4096.0, testutil.ToFloat64(c.bytesSucceeded.WithLabelValues("read")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.bytesTasked.WithLabelValues("write")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.bytesSucceeded.WithLabelValues("write")))
}

func TestCollector_QueueDepth(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveQueueDepth(3)
	c.ObserveQueueDepth(9)
	c.ObserveQueueDepth(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 9.0, testutil.ToFloat64(c.queueDepthMax))
}

func TestHandler_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObserveQueueDepth(5)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bbdrain_queue_depth 5")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).ObserveQueueDepth(2)

	log, _ := logtest.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)
	srv, err := Listen("127.0.0.1:0", reg, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.Contains(body, "bbdrain_queue_depth 2"))

	cancel()
	assert.NoError(t, <-errCh)
}

func TestCollector_WithDrainer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	dir := t.TempDir()
	log, _ := logtest.NewNullLogger()
	d := engine.New(provider.NewLocalAccessor(dir), engine.WithObserver(c), engine.WithLogger(log))
	require.NoError(t, d.AddWrite("a.bin", []byte("hello")))
	require.NoError(t, d.Start())
	d.Join()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.operationsTotal.WithLabelValues("Write", "completed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.bytesSucceeded.WithLabelValues("write")))
}
