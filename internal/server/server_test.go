package server

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/connection"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/handler"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/relay"
	"sudooom.im.relay/internal/router"
	"sudooom.im.relay/internal/signaling"
	"sudooom.im.relay/internal/snowflake"
)

type testServer struct {
	*httptest.Server
	presence *presence.Memory
	connMgr  *connection.Manager
}

func startTestServer(t *testing.T, mutate func(*config.RelayConfig)) *testServer {
	t.Helper()
	cfg := config.DefaultRelayConfig()
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	connMgr := connection.NewManager()
	store := presence.NewMemory(cfg.Server.NodeID)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	machine := signaling.NewMachine(signaling.NewMemoryStore(), nil, 0, logger)
	r := relay.New(router.New(cfg.Server.NodeID, connMgr, store, nil, logger), machine, node, logger)
	h := handler.NewHandler(connMgr, store, r, logger)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(cfg, connMgr, h, logger)
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
		cancel()
	})
	return &testServer{Server: ts, presence: store, connMgr: connMgr}
}

func (ts *testServer) socketURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
}

type wsClient struct {
	t  *testing.T
	ws *websocket.Conn
}

func (ts *testServer) dial(t *testing.T, userID string) *wsClient {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(ts.socketURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })

	c := &wsClient{t: t, ws: ws}
	c.send(event.Join, userID)
	require.Equal(t, &event.JoinedAck{UserID: userID}, c.next())
	return c
}

func (c *wsClient) send(name string, payload any) {
	c.t.Helper()
	data, err := event.Marshal(name, payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, data))
}

func (c *wsClient) next() event.Outbound {
	c.t.Helper()
	f := c.nextFrame()
	out, err := event.DecodeOutbound(f)
	require.NoError(c.t, err)
	return out
}

func (c *wsClient) nextFrame() event.Frame {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ws.ReadMessage()
	require.NoError(c.t, err)
	f, err := event.DecodeFrame(data)
	require.NoError(c.t, err)
	return f
}

// expectSilence 在短时间内不应再收到任何帧
func (c *wsClient) expectSilence() {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := c.ws.ReadMessage()
	require.Error(c.t, err)
}

// 场景 A：双方各两个标签页都收到同一条消息
func TestScenarioA_MultiTabDualEmit(t *testing.T) {
	ts := startTestServer(t, nil)
	alice1, alice2 := ts.dial(t, "alice"), ts.dial(t, "alice")
	bob := ts.dial(t, "bob")

	alice1.send(event.SendMessage, map[string]string{"to": "bob", "from": "alice", "message": "hi", "id": "m1"})

	want := bob.nextFrame()
	assert.Equal(t, event.ReceiveMessage, want.Event)
	assert.Equal(t, want, alice1.nextFrame())
	assert.Equal(t, want, alice2.nextFrame())

	msg, err := event.DecodeOutbound(want)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.(*event.MessageReceived).ID)
	bob.expectSilence()
}

// 场景 B：offer / answer / candidate / end
func TestScenarioB_CallFlow(t *testing.T) {
	ts := startTestServer(t, nil)
	alice, bob := ts.dial(t, "alice"), ts.dial(t, "bob")

	alice.send(event.VideoCall, map[string]any{"to": "bob", "from": "alice", "offer": map[string]string{"sdp": "offer"}})
	incoming := bob.next().(*event.Incoming)
	assert.Equal(t, "alice", incoming.From)
	assert.Equal(t, event.Video, incoming.Modality)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(incoming.Offer))

	bob.send(event.VideoSignal, map[string]any{"to": "alice", "from": "bob", "data": map[string]any{"answer": map[string]string{"sdp": "answer"}}})
	signal := alice.next().(*event.Signal)
	assert.Equal(t, "bob", signal.From)

	alice.send(event.VideoSignal, map[string]any{"to": "bob", "from": "alice", "data": map[string]any{"candidate": "c1"}})
	assert.Equal(t, event.VideoSignalOut, bob.nextFrame().Event)

	bob.send(event.VideoEnd, map[string]string{"to": "alice", "from": "bob"})
	assert.Equal(t, &event.Ended{From: "bob", Modality: event.Video}, alice.next())
	assert.Equal(t, &event.Ended{From: "bob", Modality: event.Video}, bob.next())
}

// 场景 C：删除传播到双方房间
func TestScenarioC_Delete(t *testing.T) {
	ts := startTestServer(t, nil)
	alice, bob := ts.dial(t, "alice"), ts.dial(t, "bob")

	alice.send(event.DeleteMessage, map[string]any{"to": "bob", "from": "alice", "ids": []string{"m1", "m2"}})

	want := &event.Deleted{IDs: []string{"m1", "m2"}, From: "alice", To: "bob"}
	assert.Equal(t, want, bob.next())
	assert.Equal(t, want, alice.next())
}

// 场景 D：离线期间的消息不会在上线后补发
func TestScenarioD_OfflineNotReplayed(t *testing.T) {
	ts := startTestServer(t, nil)
	alice := ts.dial(t, "alice")

	alice.send(event.SendMessage, map[string]string{"to": "bob", "from": "alice", "message": "missed"})
	assert.Equal(t, event.ReceiveMessage, alice.nextFrame().Event)

	bob := ts.dial(t, "bob")
	bob.expectSilence()

	online, err := ts.presence.Online(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, online)
}

func TestDisconnectUpdatesPresence(t *testing.T) {
	ts := startTestServer(t, nil)
	alice := ts.dial(t, "alice")
	require.NoError(t, alice.ws.Close())

	require.Eventually(t, func() bool {
		ok, err := ts.presence.IsOnline(context.Background(), "alice")
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.connMgr.Count())
}

func TestCheckOrigin(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.RelayConfig) {
		cfg.Server.AllowedOrigins = []string{"https://chat.example.com"}
	})

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.socketURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://chat.example.com"}}
	ws, _, err := websocket.DefaultDialer.Dial(ts.socketURL(), header)
	require.NoError(t, err)
	ws.Close()
}

func TestMaxConnections(t *testing.T) {
	ts := startTestServer(t, func(cfg *config.RelayConfig) {
		cfg.Server.MaxConnections = 1
	})
	ts.dial(t, "alice")

	_, resp, err := websocket.DefaultDialer.Dial(ts.socketURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMalformedEventNotSurfaced(t *testing.T) {
	ts := startTestServer(t, nil)
	alice := ts.dial(t, "alice")

	require.NoError(t, alice.ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"send_message","data":{"message":"no recipient"}}`)))
	require.NoError(t, alice.ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"teleport","data":{}}`)))
	alice.expectSilence()
}

func TestGenerateSelfSignedTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")

	cfg, err := generateSelfSignedTLSConfig(certFile, keyFile)
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)
	assert.Contains(t, cfg.NextProtos, "h3")

	// 第二次直接加载已有证书
	again, err := generateSelfSignedTLSConfig(certFile, keyFile)
	require.NoError(t, err)
	assert.Equal(t, cfg.Certificates[0].Certificate, again.Certificates[0].Certificate)
	assert.Len(t, CertHash(again.Certificates[0]), 44)
	assert.Equal(t, CertHash(cfg.Certificates[0]), CertHash(again.Certificates[0]))
	assert.Empty(t, CertHash(tls.Certificate{}))
}
