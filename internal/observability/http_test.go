package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/wlproto/internal/testutil/testlog"
)

func TestServeMetricsExposesCollectors(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- ServeMetrics(ctx, ln) }()

	RecordDispatchError("unknown_object")
	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "wlproto_dispatch_errors_total")
	require.Contains(t, string(body), "wlproto_roundtrip_duration_seconds")

	cancel()
	require.NoError(t, <-served)
}

func TestMetricsRouterRoutes(t *testing.T) {
	testlog.Start(t)
	r := MetricsRouter(zerolog.Nop())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "wlproto_roundtrip_duration_seconds")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
