package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/devicerelay/internal/runtime/config"
	jsoncodec "github.com/drblury/devicerelay/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/devicerelay/internal/runtime/logging"
	relaypkg "github.com/drblury/devicerelay/internal/runtime/relay"
	transportpkg "github.com/drblury/devicerelay/internal/runtime/transport"
	bus "github.com/drblury/devicerelay/transport"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestConfig(t *testing.T) *configpkg.Config {
	t.Helper()
	conf := configpkg.Default()
	conf.InstanceID = "test-instance"
	conf.StaticDir = t.TempDir()
	conf.ShutdownTimeout = 2 * time.Second
	return &conf
}

type testPublisher struct {
	mu        sync.Mutex
	published []*message.Message
	topics    []string
	err       error
	closed    int
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range messages {
		p.topics = append(p.topics, topic)
		p.published = append(p.published, m)
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]*message.Message, len(p.published))
	copy(clone, p.published)
	return clone
}

type testSubscriber struct {
	err    error
	closed int
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error {
	s.closed++
	return nil
}

func stubTransport(pub *testPublisher, sub *testSubscriber) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{
			Publisher:    pub,
			Subscriber:   sub,
			Capabilities: bus.Capabilities{Name: "stub"},
		}, nil
	})
}

func failingTransport(err error) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{}, err
	})
}

// newTestService builds a Service over a stub bus. The router is never run.
func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := TryNewService(newTestConfig(t), newTestLogger(), context.Background(), ServiceDependencies{
		TransportFactory: stubTransport(&testPublisher{}, &testSubscriber{}),
	})
	require.NoError(t, err)
	return svc
}

// relayHarness runs a Service on the in-process bus behind an httptest server.
type relayHarness struct {
	t      *testing.T
	svc    *Service
	server *httptest.Server
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func startRelay(t *testing.T, mutate func(*configpkg.Config), deps ServiceDependencies) *relayHarness {
	t.Helper()
	conf := newTestConfig(t)
	if mutate != nil {
		mutate(conf)
	}
	svc, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &relayHarness{t: t, svc: svc, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- svc.Run(ctx) }()

	select {
	case <-svc.Running():
	case err := <-h.done:
		t.Fatalf("relay stopped before running: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not start")
	}

	h.server = httptest.NewServer(svc.Handler())
	t.Cleanup(h.stop)
	return h
}

// stop shuts the relay down and waits for Run to return. Safe to call twice.
func (h *relayHarness) stop() {
	h.once.Do(func() {
		h.cancel()
		select {
		case err := <-h.done:
			if err != nil {
				h.t.Errorf("relay returned error: %v", err)
			}
		case <-time.After(10 * time.Second):
			h.t.Error("relay did not stop")
		}
		h.server.Close()
	})
}

func (h *relayHarness) get(path string) *http.Response {
	h.t.Helper()
	resp, err := h.server.Client().Get(h.server.URL + path)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dial connects and consumes the connected greeting and the initial roster.
func (h *relayHarness) dial() *testClient {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: h.t, conn: conn}
	greeting := c.expect(relaypkg.EventConnected)
	var body struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(h.t, jsoncodec.Unmarshal(greeting.Data, &body))
	require.NotEmpty(h.t, body.SessionID)
	c.id = body.SessionID

	c.expect(relaypkg.EventDevicesUpdated)
	return c
}

func (c *testClient) send(event string, data any) {
	c.t.Helper()
	frame := map[string]any{"event": event}
	if data != nil {
		frame["data"] = data
	}
	raw, err := jsoncodec.Marshal(frame)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, raw))
}

func (c *testClient) read() relaypkg.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	env, err := relaypkg.DecodeEnvelope(frame)
	require.NoError(c.t, err)
	return env
}

func (c *testClient) expect(event string) relaypkg.Envelope {
	c.t.Helper()
	env := c.read()
	require.Equal(c.t, event, env.Event, "unexpected frame %s %s", env.Event, string(env.Data))
	return env
}

func (c *testClient) roster() []map[string]any {
	c.t.Helper()
	env := c.expect(relaypkg.EventDevicesUpdated)
	var roster []map[string]any
	require.NoError(c.t, jsoncodec.Unmarshal(env.Data, &roster))
	return roster
}
