// Package gateway provides the HTTP client for the Federation Gateway:
// system registration, agent registration, heartbeat, reconnection and
// event delivery.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/resilience"
)

var (
	// ErrReconnectExhausted is returned when every reconnect attempt failed.
	// The link stays down until an operator-triggered reconnect.
	ErrReconnectExhausted = errors.New("gateway reconnect attempts exhausted")

	// ErrUnexpectedStatus wraps non-2xx Gateway responses.
	ErrUnexpectedStatus = errors.New("unexpected gateway status")
)

const maxErrorBody = 512

var _ gateway.Link = (*Client)(nil)

// AgentRecord is an agent this system federates with the Gateway.
type AgentRecord struct {
	gateway.AgentRegistration
	Registered   bool      `json:"registered"`
	RegisteredAt time.Time `json:"registered_at,omitzero"`
	token        string
}

// Client talks to the Federation Gateway REST API. It implements
// gateway.Transport and gateway.Registrar.
type Client struct {
	baseURL    string
	cfg        config.Gateway
	system     gateway.SystemRegistration
	httpClient *http.Client
	breaker    *resilience.Breaker
	limiter    *rate.Limiter
	log        *slog.Logger
	now        func() time.Time

	mu         sync.Mutex
	connected  bool
	health     gateway.Health
	token      string
	agents     map[string]*AgentRecord
	agentOrder []string
	hbCancel   context.CancelFunc
	onConnect  []func(ctx context.Context)
	onLinkLost func(err error)

	reconnectMu sync.Mutex

	life       context.Context
	lifeCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewClient creates a disconnected Gateway client.
func NewClient(cfg config.Gateway, system gateway.SystemRegistration, log *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	life, cancel := context.WithCancel(context.Background())
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		cfg:     cfg,
		system:  system,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: cfotel.HTTPTransport(nil),
		},
		limiter:    rate.NewLimiter(limit, burst),
		log:        logger.Component(log, "gateway").With("system_id", system.SystemID),
		now:        time.Now,
		health:     gateway.HealthDisconnected,
		agents:     make(map[string]*AgentRecord),
		life:       life,
		lifeCancel: cancel,
	}
}

// SetBreaker attaches a circuit breaker to event delivery and agent
// registration. Connection lifecycle calls are bounded by the reconnect
// policy instead.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// OnConnect registers fn to run after every successful connect.
func (c *Client) OnConnect(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnLinkLost registers fn to run when reconnect attempts are exhausted.
func (c *Client) OnLinkLost(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLinkLost = fn
}

// IsConnected reports whether the system holds a valid Gateway session.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Health returns the link state.
func (c *Client) Health() gateway.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

// Connect registers the system, stores the session token, (re)registers
// every known agent and starts the heartbeat loop.
func (c *Client) Connect(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, false, http.MethodPost, "/systems/register", "", c.system, &resp); err != nil {
		return fmt.Errorf("register system: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("register system: %w: empty token", ErrUnexpectedStatus)
	}

	c.mu.Lock()
	c.stopHeartbeatLocked()
	c.connected = true
	c.health = gateway.HealthConnected
	c.token = resp.Token
	c.startHeartbeatLocked()
	hooks := slices.Clone(c.onConnect)
	c.mu.Unlock()

	c.log.Info("connected to gateway", "url", c.baseURL)

	c.registerKnownAgents(ctx)
	for _, fn := range hooks {
		fn(ctx)
	}
	return nil
}

// Reconnect retries Connect up to MaxReconnectAttempts times, waiting
// ReconnectInterval before each attempt. When every attempt fails the link
// is marked lost and the OnLinkLost callback fires. Only one cycle runs at
// a time; a concurrent call returns gateway.ErrReconnectInProgress.
func (c *Client) Reconnect(ctx context.Context) error {
	if !c.reconnectMu.TryLock() {
		return gateway.ErrReconnectInProgress
	}
	defer c.reconnectMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		c.disconnect(gateway.HealthReconnecting)

		select {
		case <-ctx.Done():
			c.setHealth(gateway.HealthDisconnected)
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}

		if lastErr = c.Connect(ctx); lastErr == nil {
			c.log.Info("reconnected to gateway", "attempt", attempt)
			return nil
		}
		c.log.Warn("reconnect attempt failed", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts, "error", lastErr)
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, c.cfg.MaxReconnectAttempts, lastErr)
	c.mu.Lock()
	c.health = gateway.HealthLost
	lost := c.onLinkLost
	c.mu.Unlock()

	c.log.Error("gateway link lost", "error", err)
	if lost != nil {
		lost(err)
	}
	return err
}

// ResetAndReconnect is the operator-triggered reconnect: it closes the
// circuit breaker and runs a fresh reconnect cycle.
func (c *Client) ResetAndReconnect(ctx context.Context) error {
	if c.breaker != nil {
		c.breaker.Reset()
	}
	return c.Reconnect(ctx)
}

// Disconnect stops the heartbeat loop and drops the session. It is idempotent.
func (c *Client) Disconnect() {
	c.disconnect(gateway.HealthDisconnected)
}

func (c *Client) disconnect(next gateway.Health) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopHeartbeatLocked()
	if c.connected {
		c.log.Info("disconnected from gateway")
	}
	c.connected = false
	c.token = ""
	c.health = next
	for _, a := range c.agents {
		a.Registered = false
		a.token = ""
	}
}

// Close disconnects and waits for background loops to exit.
func (c *Client) Close() {
	c.Disconnect()
	c.lifeCancel()
	c.wg.Wait()
}

// RegisterAgent records an agent as federated and registers it now when
// connected. While disconnected the registration is kept and sent on the
// next successful connect, and ErrNotConnected is returned.
func (c *Client) RegisterAgent(ctx context.Context, agentID, agentType string, capabilities []string) error {
	c.mu.Lock()
	rec, ok := c.agents[agentID]
	if !ok {
		rec = &AgentRecord{}
		c.agents[agentID] = rec
		c.agentOrder = append(c.agentOrder, agentID)
	}
	rec.AgentRegistration = gateway.AgentRegistration{
		AgentID:      agentID,
		AgentType:    agentType,
		SystemID:     c.system.SystemID,
		Capabilities: slices.Clone(capabilities),
	}
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return fmt.Errorf("agent %s registration pending: %w", agentID, domain.ErrNotConnected)
	}
	return c.registerAgent(ctx, agentID)
}

// IsRegistered reports whether the Gateway issued a token for agentID in
// the current session.
func (c *Client) IsRegistered(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.agents[agentID]
	return ok && rec.Registered
}

// Agents returns the federated agent records in registration order.
func (c *Client) Agents() []AgentRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AgentRecord, 0, len(c.agentOrder))
	for _, id := range c.agentOrder {
		rec := *c.agents[id]
		rec.Capabilities = slices.Clone(rec.Capabilities)
		out = append(out, rec)
	}
	return out
}

func (c *Client) registerAgent(ctx context.Context, agentID string) error {
	c.mu.Lock()
	rec, ok := c.agents[agentID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("agent %s: %w", agentID, domain.ErrNotFound)
	}
	body := rec.AgentRegistration
	token := c.token
	c.mu.Unlock()

	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, true, http.MethodPost, "/agents/register", token, body, &resp); err != nil {
		return fmt.Errorf("register agent %s: %w", agentID, err)
	}

	c.mu.Lock()
	rec.token = resp.Token
	rec.Registered = true
	rec.RegisteredAt = c.now().UTC()
	c.mu.Unlock()

	c.log.Info("agent registered with gateway", "agent_id", agentID)
	return nil
}

func (c *Client) registerKnownAgents(ctx context.Context) {
	c.mu.Lock()
	ids := slices.Clone(c.agentOrder)
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.registerAgent(ctx, id); err != nil {
			c.log.Warn("agent re-registration failed", "agent_id", id, "error", err)
		}
	}
}

// PublishEvent posts one CloudEvent and returns the Gateway-issued id.
func (c *Client) PublishEvent(ctx context.Context, e event.Event) (string, error) {
	c.mu.Lock()
	connected, token := c.connected, c.token
	c.mu.Unlock()
	if !connected {
		return "", domain.ErrNotConnected
	}

	var resp struct {
		EventID string `json:"event_id"`
	}
	if err := c.do(ctx, true, http.MethodPost, "/events", token, e, &resp); err != nil {
		return "", fmt.Errorf("publish %s: %w", e.Type, err)
	}
	if resp.EventID == "" {
		return e.ID, nil
	}
	return resp.EventID, nil
}

func (c *Client) heartbeat(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	path := "/systems/" + url.PathEscape(c.system.SystemID) + "/heartbeat"
	return c.do(ctx, false, http.MethodPost, path, token, nil, nil)
}

// startHeartbeatLocked starts the heartbeat loop. Caller holds c.mu.
func (c *Client) startHeartbeatLocked() {
	if c.life.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.life)
	c.hbCancel = cancel
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

func (c *Client) stopHeartbeatLocked() {
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
}

// heartbeatLoop sends heartbeats until cancelled. On failure it hands over
// to Reconnect, which starts a new loop on success, and returns.
func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := c.heartbeat(ctx)
		if err == nil {
			c.log.Debug("heartbeat ok")
			continue
		}
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("heartbeat failed, reconnecting", "error", err)
		_ = c.Reconnect(c.life)
		return
	}
}

func (c *Client) setHealth(h gateway.Health) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = h
}

// do sends a JSON request and decodes a JSON response into out. Guarded
// calls go through the circuit breaker.
func (c *Client) do(ctx context.Context, guarded bool, method, path, token string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	var data []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg := string(data)
			if len(msg) > maxErrorBody {
				msg = msg[:maxErrorBody]
			}
			return fmt.Errorf("%w %d: %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(msg))
		}
		return nil
	}

	var err error
	if guarded && c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return err
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
