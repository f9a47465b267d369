package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-protocol/meshguard/pkg/blacklist"
	"github.com/aegis-protocol/meshguard/pkg/coordinator"
	"github.com/aegis-protocol/meshguard/pkg/feed"
	"github.com/aegis-protocol/meshguard/pkg/registry"
)

type mockInspector struct {
	status  coordinator.Status
	nodes   []registry.NodeStat
	entries []blacklist.Entry
	err     error
}

func (m *mockInspector) Status(context.Context) (coordinator.Status, error) {
	return m.status, m.err
}

func (m *mockInspector) Nodes(context.Context) ([]registry.NodeStat, error) {
	return m.nodes, m.err
}

func (m *mockInspector) Blacklist(context.Context) ([]blacklist.Entry, error) {
	return m.entries, m.err
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(insp Inspector, hub *feed.Hub, reg *prometheus.Registry) *Server {
	gin.SetMode(gin.TestMode)
	return NewServer("127.0.0.1:0", insp, hub, reg, quietLogger())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(&mockInspector{}, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	w := get(t, s, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	insp := &mockInspector{status: coordinator.Status{
		State:             "running",
		RegistryEntries:   2,
		RegistryCapacity:  4,
		BlacklistEntries:  1,
		BlacklistCapacity: 4,
		FeedVersion:       3,
	}}
	s := newTestServer(insp, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	w := get(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, w.Code)

	var got coordinator.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, insp.status, got)
}

func TestStatusUnavailable(t *testing.T) {
	insp := &mockInspector{err: coordinator.ErrNotRunning}
	s := newTestServer(insp, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	for _, path := range []string{"/api/v1/status", "/api/v1/nodes", "/api/v1/blacklist"} {
		w := get(t, s, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), "not running")
	}
}

func TestNodes(t *testing.T) {
	id := netip.MustParseAddr("fd00::212:4b00:1")
	insp := &mockInspector{nodes: []registry.NodeStat{{
		Identity:    id,
		PacketCount: 3,
		Active:      true,
	}}}
	s := newTestServer(insp, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	w := get(t, s, "/api/v1/nodes")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count int                 `json:"count"`
		Nodes []registry.NodeStat `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Nodes, 1)
	assert.Equal(t, id, body.Nodes[0].Identity)
	assert.Equal(t, uint32(3), body.Nodes[0].PacketCount)
}

func TestBlacklist(t *testing.T) {
	insp := &mockInspector{entries: []blacklist.Entry{
		{Identity: netip.MustParseAddr("fd00::a"), Timestamp: 42},
	}}
	s := newTestServer(insp, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	w := get(t, s, "/api/v1/blacklist")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1,"entries":[{"identity":"fd00::a","timestamp":42}]}`, w.Body.String())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "meshguard_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s := newTestServer(&mockInspector{}, feed.NewHub(1, quietLogger()), reg)

	w := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "meshguard_test_total 1")
}

func TestFeedWebSocket(t *testing.T) {
	hub := feed.NewHub(4, quietLogger())
	s := newTestServer(&mockInspector{}, hub, prometheus.NewRegistry())

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	first := feed.BuildFilter([]netip.Addr{netip.MustParseAddr("fd00::a")}, 4, 1)
	data, err := first.Serialize()
	require.NoError(t, err)
	hub.Publish(data)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/feed"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := feed.Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version())
	assert.True(t, got.Contains(netip.MustParseAddr("fd00::a")))

	second, err := feed.BuildFilter(nil, 4, 2).Serialize()
	require.NoError(t, err)
	hub.Publish(second)

	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	got, err = feed.Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version())
	assert.Zero(t, got.Len())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeStopsOnCancel(t *testing.T) {
	s := newTestServer(&mockInspector{}, feed.NewHub(1, quietLogger()), prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
