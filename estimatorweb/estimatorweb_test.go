package estimatorweb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradleyConlin/northstrike-training/estimator"
	"github.com/BradleyConlin/northstrike-training/telemetry"
)

func emission(t *testing.T) telemetry.Emission {
	cfg := estimator.DefaultConfig()
	est, err := estimator.New(cfg)
	require.NoError(t, err)
	x, p := estimator.Prior(cfg, [3]float64{1, 2, 3}, estimator.Pi/2)
	require.NoError(t, est.Initialize(x, p, cfg.ProcessNoise))
	s, err := est.Estimate()
	require.NoError(t, err)
	return telemetry.Emission{
		Session:  "web",
		Snapshot: s,
		Last:     estimator.InertialSample{T: 0.5, Accel: [3]float64{0, 0, estimator.G}, Gyro: [3]float64{0, 0, estimator.Deg}},
		Stats:    estimator.Stats{Updates: 4},
	}
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(emission(t))
	assert.Equal(t, "web", f.Session)
	assert.Equal(t, "initialized", f.Phase)
	assert.Equal(t, [3]float64{1, 2, 3}, f.Position)
	assert.InDelta(t, 90, f.Heading, 1e-9)
	assert.Equal(t, [3]float64{10, 10, 10}, f.PositionStd)
	assert.Len(t, f.Variance, 15)
	assert.Len(t, f.StateNames, 15)
	assert.Equal(t, "inertial", f.Kind)
	assert.InDelta(t, 1, f.Gyro[2], 1e-12)
	assert.Equal(t, 4, f.Updates)
}

func startRoom(t *testing.T) (*Room, string, context.CancelFunc) {
	log, _ := test.NewNullLogger()
	r := NewRoom(log)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return r, strings.TrimPrefix(srv.URL, "http://"), cancel
}

func waitClients(t *testing.T, r *Room, n int) {
	require.Eventually(t, func() bool { return r.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisherToViewer(t *testing.T) {
	r, host, _ := startRoom(t)

	viewer, _, err := websocket.DefaultDialer.Dial("ws://"+host+"/", nil)
	require.NoError(t, err)
	defer viewer.Close()

	log, _ := test.NewNullLogger()
	pub, err := NewPublisher(host, log)
	require.NoError(t, err)
	defer pub.Close()
	waitClients(t, r, 2)

	require.NoError(t, pub.Emit(emission(t)))

	require.NoError(t, viewer.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := viewer.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(msg, &f))
	assert.Equal(t, "web", f.Session)
	assert.Equal(t, [3]float64{1, 2, 3}, f.Position)
}

func TestRoomSinkBroadcast(t *testing.T) {
	r, host, cancel := startRoom(t)

	var viewers []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.DefaultDialer.Dial("ws://"+host+"/", nil)
		require.NoError(t, err)
		defer c.Close()
		viewers = append(viewers, c)
	}
	waitClients(t, r, 2)

	require.NoError(t, RoomSink{Room: r}.Emit(emission(t)))
	for _, c := range viewers {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Contains(t, string(msg), `"session":"web"`)
	}

	cancel()
	require.Eventually(t, func() bool { return !r.Broadcast([]byte("late")) }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, r.Clients())
}

func TestMux(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := NewRoom(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	metrics := telemetry.NewMetrics()
	srv := httptest.NewServer(Mux(r, map[string]http.Handler{"/metrics": metrics.Handler()}))
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+Path, nil)
	require.NoError(t, err)
	defer c.Close()
	waitClients(t, r, 1)

	require.NoError(t, metrics.Emit(emission(t)))
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "northstrike_estimator_position_std_meters")
}

func TestServeStopsOnCancel(t *testing.T) {
	log, _ := test.NewNullLogger()
	r := NewRoom(log)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, "127.0.0.1:0", r, Mux(r, nil), log) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
