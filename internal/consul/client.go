// Package consul wraps HashiCorp Consul for two gateway concerns:
// registering the gateway itself and discovering the upstream
// user-management API when it is not pinned to a static URL.
package consul

import (
	"fmt"
	"math/rand"

	consulapi "github.com/hashicorp/consul/api"
)

// Client wraps the Consul API client.
type Client struct {
	api *consulapi.Client
}

// NewClient connects to the Consul agent at addr. An empty token disables
// ACL authentication.
func NewClient(addr, token string) (*Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	if token != "" {
		cfg.Token = token
	}

	api, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{api: api}, nil
}

// ServiceConfig describes the gateway's own registration.
type ServiceConfig struct {
	ID      string
	Name    string
	Address string
	Port    int
	Tags    []string
	Check   *HealthCheck
}

// HealthCheck is the HTTP health check Consul polls.
type HealthCheck struct {
	HTTP     string
	Interval string
	Timeout  string
}

// Register registers the service with Consul.
func (c *Client) Register(cfg *ServiceConfig) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Address: cfg.Address,
		Port:    cfg.Port,
		Tags:    cfg.Tags,
	}
	if cfg.Check != nil {
		reg.Check = &consulapi.AgentServiceCheck{
			HTTP:     cfg.Check.HTTP,
			Interval: cfg.Check.Interval,
			Timeout:  cfg.Check.Timeout,
		}
	}

	if err := c.api.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	return nil
}

// Deregister removes a service registration from Consul.
func (c *Client) Deregister(serviceID string) error {
	if err := c.api.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

// DiscoverOne returns the base URL of one healthy instance of the named
// service, picked at random.
func (c *Client) DiscoverOne(serviceName string) (string, error) {
	services, _, err := c.api.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("failed to discover service %s: %w", serviceName, err)
	}
	if len(services) == 0 {
		return "", fmt.Errorf("no healthy instances found for service: %s", serviceName)
	}

	entry := services[rand.Intn(len(services))]
	addr := entry.Service.Address
	if addr == "" {
		addr = entry.Node.Address
	}
	return fmt.Sprintf("http://%s:%d", addr, entry.Service.Port), nil
}

// Resolver adapts the client to the backend client's Resolver interface
// for a fixed upstream service name.
type Resolver struct {
	client  *Client
	service string
	// fallback is used when discovery yields no healthy instance
	fallback string
}

// NewResolver builds a Resolver for serviceName, falling back to
// fallbackURL when Consul has no healthy instance.
func NewResolver(client *Client, serviceName, fallbackURL string) *Resolver {
	return &Resolver{client: client, service: serviceName, fallback: fallbackURL}
}

// BaseURL resolves the upstream base URL through Consul.
func (r *Resolver) BaseURL() (string, error) {
	url, err := r.client.DiscoverOne(r.service)
	if err != nil {
		if r.fallback != "" {
			return r.fallback, nil
		}
		return "", err
	}
	return url, nil
}
