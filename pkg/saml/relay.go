package saml

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// FormField is one hidden input of the auto-submitting POST form. A slice
// preserves field order in the rendered page.
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Envelope is a staged POST-binding delivery: the destination URL and the
// form fields the browser will submit to it. Each envelope is consumed
// exactly once.
type Envelope struct {
	Destination string      `json:"destination"`
	Fields      []FormField `json:"fields"`
}

// RelayCarrier stages exactly one pending envelope per browser session and
// holds any RelayState the service provider sent ahead of the response.
// Take operations are destructive: of two concurrent takes for the same
// session, at most one observes the value.
type RelayCarrier interface {
	StageEnvelope(ctx context.Context, sessionID string, env Envelope) error
	// TakeEnvelope returns the staged envelope and removes it, or nil when
	// none is staged.
	TakeEnvelope(ctx context.Context, sessionID string) (*Envelope, error)

	StageRelayState(ctx context.Context, sessionID, state string) error
	// TakeRelayState returns the pending relay state and removes it, or ""
	// when none is pending.
	TakeRelayState(ctx context.Context, sessionID string) (string, error)
}

// relayTTL bounds how long a staged envelope or relay state may wait for
// the browser before it is discarded.
const relayTTL = 5 * time.Minute

const (
	envelopeKeyPrefix   = "saml:envelope:"
	relayStateKeyPrefix = "saml:relaystate:"
)

// RedisRelayCarrier stores staged envelopes in redis. GETDEL makes the
// destructive read a single atomic command.
type RedisRelayCarrier struct {
	client *redis.Client
}

// NewRedisRelayCarrier creates a carrier over an existing redis client.
func NewRedisRelayCarrier(client *redis.Client) *RedisRelayCarrier {
	return &RedisRelayCarrier{client: client}
}

func (c *RedisRelayCarrier) StageEnvelope(ctx context.Context, sessionID string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return c.client.Set(ctx, envelopeKeyPrefix+sessionID, data, relayTTL).Err()
}

func (c *RedisRelayCarrier) TakeEnvelope(ctx context.Context, sessionID string) (*Envelope, error) {
	data, err := c.client.GetDel(ctx, envelopeKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel failed: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return &env, nil
}

func (c *RedisRelayCarrier) StageRelayState(ctx context.Context, sessionID, state string) error {
	return c.client.Set(ctx, relayStateKeyPrefix+sessionID, state, relayTTL).Err()
}

func (c *RedisRelayCarrier) TakeRelayState(ctx context.Context, sessionID string) (string, error) {
	state, err := c.client.GetDel(ctx, relayStateKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel failed: %w", err)
	}
	return state, nil
}

// MemoryRelayCarrier is a process-local carrier for development and tests,
// with the same at-most-once semantics under a mutex.
type MemoryRelayCarrier struct {
	mu          sync.Mutex
	envelopes   map[string]Envelope
	relayStates map[string]string
}

// NewMemoryRelayCarrier creates an empty in-memory carrier.
func NewMemoryRelayCarrier() *MemoryRelayCarrier {
	return &MemoryRelayCarrier{
		envelopes:   make(map[string]Envelope),
		relayStates: make(map[string]string),
	}
}

func (c *MemoryRelayCarrier) StageEnvelope(ctx context.Context, sessionID string, env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes[sessionID] = env
	return nil
}

func (c *MemoryRelayCarrier) TakeEnvelope(ctx context.Context, sessionID string) (*Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	env, ok := c.envelopes[sessionID]
	if !ok {
		return nil, nil
	}
	delete(c.envelopes, sessionID)
	return &env, nil
}

func (c *MemoryRelayCarrier) StageRelayState(ctx context.Context, sessionID, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relayStates[sessionID] = state
	return nil
}

func (c *MemoryRelayCarrier) TakeRelayState(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.relayStates[sessionID]
	if !ok {
		return "", nil
	}
	delete(c.relayStates, sessionID)
	return state, nil
}
