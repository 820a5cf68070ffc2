package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	connected bool
}

func (f fakeSource) ConnectionStatus() (bool, string) {
	if !f.connected {
		return false, ""
	}
	return true, "Office"
}

func (f fakeSource) Established() bool { return f.connected }
func (f fakeSource) ConnectionIP() string { return "10.8.0.2" }
func (f fakeSource) CachedPublicIP() string { return "198.51.100.7" }
func (f fakeSource) Uptime() time.Duration { return 90 * time.Second }

func TestRecorderMethods(t *testing.T) {
	m := New()

	m.ConnectAttempt("success")
	m.ConnectAttempt("success")
	m.ConnectAttempt("auth_failed")
	m.Disconnected(false)
	m.Disconnected(true)
	m.LogLine()
	m.SetTunnelUp(true)
	m.PublicIPLookup(true)
	m.PublicIPLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("auth_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("graceful")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Disconnects.WithLabelValues("forced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogLines))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TunnelUp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublicIPLookups.WithLabelValues("failure")))

	m.SetTunnelUp(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TunnelUp))
}

func TestMetricsEndpoint(t *testing.T) {
	m := New()
	m.ConnectAttempt("success")

	rec := httptest.NewRecorder()
	Router(m, fakeSource{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `openvpn_manager_connect_attempts_total{result="success"} 1`)
}

func TestStatusEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		source fakeSource
		want   Status
	}{
		{
			name:   "connected",
			source: fakeSource{connected: true},
			want: Status{
				Connected:     true,
				Profile:       "Office",
				Established:   true,
				TunnelIP:      "10.8.0.2",
				PublicIP:      "198.51.100.7",
				UptimeSeconds: 90,
			},
		},
		{
			name:   "disconnected",
			source: fakeSource{},
			want:   Status{PublicIP: "198.51.100.7"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Router(New(), tt.source).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var got Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServerShutsDownOnCancel(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", Router(New(), fakeSource{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + srv.Addr() + "/status")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `"connected":false`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
