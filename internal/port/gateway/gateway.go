// Package gateway defines the port to the Federation Gateway.
package gateway

import (
	"context"
	"errors"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/event"
)

// ErrReconnectInProgress is returned by Reconnect while another reconnect
// cycle is running.
var ErrReconnectInProgress = errors.New("gateway reconnect already in progress")

// Health is the state of the federation link.
type Health string

const (
	HealthConnected    Health = "connected"
	HealthReconnecting Health = "reconnecting"
	HealthLost         Health = "lost"
	HealthDisconnected Health = "disconnected"
)

// SystemRegistration is the body of POST /systems/register.
type SystemRegistration struct {
	SystemID    string   `json:"system_id"`
	SystemType  string   `json:"system_type"`
	DisplayName string   `json:"display_name"`
	Categories  []string `json:"capability_categories"`
}

// AgentRegistration is the body of POST /agents/register.
type AgentRegistration struct {
	AgentID      string   `json:"agent_id"`
	AgentType    string   `json:"agent_type"`
	SystemID     string   `json:"system_id"`
	Capabilities []string `json:"capabilities"`
}

// Transport delivers outbound events. The Gateway client implements it.
type Transport interface {
	IsConnected() bool
	// PublishEvent posts one event and returns the Gateway-issued event id.
	PublishEvent(ctx context.Context, e event.Event) (string, error)
}

// Registrar records agents with the Gateway.
type Registrar interface {
	RegisterAgent(ctx context.Context, agentID, agentType string, capabilities []string) error
	IsRegistered(agentID string) bool
}

// Link is the full Gateway session lifecycle used by the fleet service.
type Link interface {
	Transport
	Registrar
	Connect(ctx context.Context) error
	// ResetAndReconnect clears any tripped breaker and runs the reconnect policy.
	ResetAndReconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Health() Health
	OnConnect(fn func(ctx context.Context))
	OnLinkLost(fn func(err error))
	Close()
}
