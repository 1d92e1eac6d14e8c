package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfhttp "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/http"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/simulator"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/agent"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/task"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/middleware"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/service"
)

// stubLink is a Gateway link that is always connected unless told otherwise.
type stubLink struct {
	mu        sync.Mutex
	health    gateway.Health
	failNext  bool
	cycling   bool // a reconnect cycle is already running
	published []event.Event
	onConnect []func(context.Context)
}

func (l *stubLink) IsConnected() bool { return l.Health() == gateway.HealthConnected }

func (l *stubLink) PublishEvent(_ context.Context, e event.Event) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.published = append(l.published, e)
	return e.ID, nil
}

func (l *stubLink) RegisterAgent(context.Context, string, string, []string) error { return nil }
func (l *stubLink) IsRegistered(string) bool                                     { return true }

func (l *stubLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.failNext {
		l.health = gateway.HealthLost
		l.mu.Unlock()
		return errors.New("gateway unreachable")
	}
	l.health = gateway.HealthConnected
	hooks := l.onConnect
	l.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

func (l *stubLink) Reconnect(ctx context.Context) error         { return l.Connect(ctx) }
func (l *stubLink) ResetAndReconnect(ctx context.Context) error {
	l.mu.Lock()
	cycling := l.cycling
	l.mu.Unlock()
	if cycling {
		return gateway.ErrReconnectInProgress
	}
	return l.Connect(ctx)
}

func (l *stubLink) Health() gateway.Health {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.health
}

func (l *stubLink) setHealth(h gateway.Health, failNext bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.health = h
	l.failNext = failNext
}

func (l *stubLink) OnConnect(fn func(context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onConnect = append(l.onConnect, fn)
}

func (l *stubLink) OnLinkLost(func(error)) {}
func (l *stubLink) Close()                 {}

const testToken = "push-token"

type server struct {
	*httptest.Server
	link  *stubLink
	fleet *service.FleetService
}

func newServer(t *testing.T, opts cfhttp.RouteOptions) *server {
	t.Helper()
	link := &stubLink{}
	reg := service.NewRegistryService(nil)
	pub := service.NewEventPublisher("fleet-a", link, config.Publisher{MaxRetries: 1, RetryDelay: time.Second}, nil)
	fleet := service.NewFleetService(config.System{ID: "fleet-a", Type: "robot_fleet"}, reg, pub, link, nil)
	require.NoError(t, fleet.LoadCatalog(capability.All()))
	_, err := fleet.AddAgent("robotdog-001", "robotdog", []string{"robotdog.patrol.rough"}, simulator.New(10, time.Hour, nil))
	require.NoError(t, err)
	_, err = fleet.AddAgent("drone-001", "drone", []string{"drone.patrol.aerial"}, simulator.New(10, time.Hour, nil))
	require.NoError(t, err)
	require.NoError(t, fleet.Start(context.Background()))

	r := chi.NewRouter()
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Fleet: fleet}, opts)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		fleet.Stop(context.Background())
	})
	return &server{Server: srv, link: link, fleet: fleet}
}

func (s *server) do(t *testing.T, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, s.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (s *server) getList(t *testing.T, path string) []map[string]any {
	t.Helper()
	resp, err := http.Get(s.URL + path) //nolint:noctx // test helper
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func assignEvent(t *testing.T, tk task.OrchestrationTask) event.Event {
	t.Helper()
	e, err := event.New("gateway", event.TypeOrchestrationAssign, tk)
	require.NoError(t, err)
	return e
}

func TestReceiveEvent_AcceptsAssignment(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})
	e := assignEvent(t, task.OrchestrationTask{TaskID: "T1", RequiredCapability: "robotdog.patrol.rough", Parameters: map[string]any{"route_id": "r1"}})

	resp, body := s.do(t, http.MethodPost, "/events", e, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "robotdog-001", body["agent_id"])
	assert.Equal(t, e.ID, body["event_id"])

	info, ok := s.fleet.Registry().Agent("robotdog-001")
	require.True(t, ok)
	assert.Equal(t, agent.StatusBusy, info.Status)
	assert.Equal(t, "T1", info.CurrentTask)
}

func TestReceiveEvent_NoAvailableAgentIs200(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})
	e := assignEvent(t, task.OrchestrationTask{TaskID: "T2", RequiredCapability: "cleaning.floor.standard"})

	resp, body := s.do(t, http.MethodPost, "/events", e, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "rejected", body["status"])
	assert.Equal(t, "no_available_agent", body["reason"])
}

func TestReceiveEvent_BadEnvelope(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	resp, body := s.do(t, http.MethodPost, "/events", map[string]any{"specversion": "1.0", "type": "x"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.URL+"/events", bytes.NewBufferString("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestReceiveEvent_RequiresToken(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{InboundToken: func() string { return testToken }})
	e := assignEvent(t, task.OrchestrationTask{TaskID: "T3", RequiredCapability: "drone.patrol.aerial", Parameters: map[string]any{"route_id": "r1"}})

	resp, _ := s.do(t, http.MethodPost, "/events", e, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/events", e, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "drone-001", body["agent_id"])

	// Read endpoints stay public.
	assert.Len(t, s.getList(t, "/agents"), 2)
}

func TestReceiveEvent_RateLimited(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{Limiter: middleware.NewRateLimiter(0.01, 1)})
	e := assignEvent(t, task.OrchestrationTask{TaskID: "T4", RequiredCapability: "cleaning.floor.standard"})

	resp, _ := s.do(t, http.MethodPost, "/events", e, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/events", e, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestListAgents(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	all := s.getList(t, "/agents")
	require.Len(t, all, 2)
	assert.Equal(t, "robotdog-001", all[0]["agent_id"])

	patrol := s.getList(t, "/agents?capability=drone.*")
	require.Len(t, patrol, 1)
	assert.Equal(t, "drone-001", patrol[0]["agent_id"])

	assert.Empty(t, s.getList(t, "/agents?status=busy"))

	resp, _ := s.do(t, http.MethodGet, "/agents?status=sleeping", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetAgent(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	resp, body := s.do(t, http.MethodGet, "/agents/drone-001", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])

	resp, _ = s.do(t, http.MethodGet, "/agents/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCapabilities(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	assert.Len(t, s.getList(t, "/capabilities"), len(capability.All()))
	for _, c := range s.getList(t, "/capabilities?pattern=robotdog.*") {
		assert.Contains(t, c["id"], "robotdog.")
	}
}

func TestControlAgent(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	resp, _ := s.do(t, http.MethodPost, "/agents/robotdog-001/control", map[string]string{"control": "cancel"}, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing to cancel")

	resp, _ = s.do(t, http.MethodPost, "/agents/robotdog-001/control", map[string]string{"control": "dance"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/agents/robotdog-001/control", map[string]string{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/agents/ghost/control", map[string]string{"control": "pause"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/agents/robotdog-001/control", map[string]string{"control": "return_home"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "return_home", body["control"])

	e := assignEvent(t, task.OrchestrationTask{TaskID: "T5", RequiredCapability: "robotdog.patrol.rough", Parameters: map[string]any{"route_id": "r1"}})
	resp, _ = s.do(t, http.MethodPost, "/events", e, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/agents/robotdog-001/control", map[string]string{"control": "cancel", "reason": "operator"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestHealth(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})

	resp, body := s.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["gateway"])
	assert.EqualValues(t, 2, body["agents"])

	s.link.setHealth(gateway.HealthLost, true)
	resp, body = s.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])

	resp, _ = s.do(t, http.MethodPost, "/admin/reconnect", nil, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	s.link.setHealth(gateway.HealthLost, false)
	resp, body = s.do(t, http.MethodPost, "/admin/reconnect", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["gateway"])

	s.link.mu.Lock()
	s.link.health = gateway.HealthReconnecting
	s.link.cycling = true
	s.link.mu.Unlock()
	resp, body = s.do(t, http.MethodPost, "/admin/reconnect", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "reconnecting", body["gateway"])
}

func TestUnknownRoute(t *testing.T) {
	s := newServer(t, cfhttp.RouteOptions{})
	resp, body := s.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", body["error"])
}
