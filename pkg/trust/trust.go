// Package trust holds the federation trust configuration: the broker table
// and the service-provider table. Both are loaded once at process start and
// are read-only afterwards, so a single Store may be shared across handlers
// without locking.
package trust

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Broker is a client application that delegates authentication to this
// server via the shared-secret broker protocol.
type Broker struct {
	AppID     string `yaml:"app_id"`
	Secret    string `yaml:"secret"`
	ServerURL string `yaml:"server_url,omitempty"`
}

// ServiceProvider is a SAML relying party that consumes identity assertions.
type ServiceProvider struct {
	ConsumerURL string `yaml:"consumer_url"`
	Destination string `yaml:"destination"`
	Issuer      string `yaml:"issuer"`
	// AudienceRestriction defaults to the consumer URL when unset.
	AudienceRestriction string `yaml:"audience_restriction,omitempty"`
}

// Audience returns the audience restriction value for assertions issued to
// this service provider.
func (sp ServiceProvider) Audience() string {
	if sp.AudienceRestriction != "" {
		return sp.AudienceRestriction
	}
	return sp.ConsumerURL
}

// ConsumerURLKey derives the lookup key for a service provider from its
// assertion-consumer URL. The encoding is reversible, so every key
// corresponds to exactly one URL and collisions cannot occur.
func ConsumerURLKey(consumerURL string) string {
	return base64.StdEncoding.EncodeToString([]byte(consumerURL))
}

// ConsumerURLFromKey reverses ConsumerURLKey.
func ConsumerURLFromKey(key string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("invalid consumer URL key: %w", err)
	}
	return string(raw), nil
}

// Store provides lookups over the broker and service-provider tables.
type Store struct {
	brokers   map[string]Broker
	providers map[string]ServiceProvider // keyed by ConsumerURLKey
}

// NewStore builds a Store from already-validated tables. Used by tests and
// by callers that source configuration elsewhere.
func NewStore(brokers []Broker, providers []ServiceProvider) (*Store, error) {
	s := &Store{
		brokers:   make(map[string]Broker, len(brokers)),
		providers: make(map[string]ServiceProvider, len(providers)),
	}

	for _, b := range brokers {
		if b.AppID == "" {
			return nil, fmt.Errorf("broker with empty app_id")
		}
		if b.Secret == "" {
			return nil, fmt.Errorf("broker %q has empty secret", b.AppID)
		}
		if _, exists := s.brokers[b.AppID]; exists {
			return nil, fmt.Errorf("duplicate broker app_id %q", b.AppID)
		}
		s.brokers[b.AppID] = b
	}

	for _, sp := range providers {
		if sp.ConsumerURL == "" {
			return nil, fmt.Errorf("service provider with empty consumer_url")
		}
		if sp.Destination == "" {
			return nil, fmt.Errorf("service provider %q has empty destination", sp.ConsumerURL)
		}
		if sp.Issuer == "" {
			return nil, fmt.Errorf("service provider %q has empty issuer", sp.ConsumerURL)
		}
		key := ConsumerURLKey(sp.ConsumerURL)
		if _, exists := s.providers[key]; exists {
			return nil, fmt.Errorf("duplicate service provider for %q", sp.ConsumerURL)
		}
		s.providers[key] = sp
	}

	return s, nil
}

// trustFile is the on-disk YAML layout.
type trustFile struct {
	Brokers          []Broker          `yaml:"brokers"`
	ServiceProviders []ServiceProvider `yaml:"service_providers"`
}

// LoadFile reads the trust configuration from a YAML file.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust config: %w", err)
	}

	var file trustFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse trust config: %w", err)
	}

	return NewStore(file.Brokers, file.ServiceProviders)
}

// BrokerByAppID looks up a broker by its public identifier.
func (s *Store) BrokerByAppID(appID string) (Broker, bool) {
	b, ok := s.brokers[appID]
	return b, ok
}

// ProviderForConsumerURL looks up a service provider by its
// assertion-consumer URL.
func (s *Store) ProviderForConsumerURL(consumerURL string) (ServiceProvider, bool) {
	sp, ok := s.providers[ConsumerURLKey(consumerURL)]
	return sp, ok
}

// Brokers returns the number of configured brokers.
func (s *Store) Brokers() int {
	return len(s.brokers)
}

// ServiceProviders returns the number of configured service providers.
func (s *Store) ServiceProviders() int {
	return len(s.providers)
}
