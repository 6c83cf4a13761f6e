// Package registration announces a running HTTP server to a service
// registry. It is optional; the server works without a reachable registry.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

// Defaults
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTimeout           = 5 * time.Second
)

// Config describes the service being announced.
type Config struct {
	RegistryURL string
	ServiceName string
	ServiceURL  string
	HealthURL   string
	Version     string
	Tools       []string
	Metadata    map[string]any

	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// ConfigFromEnv reads REGISTRY_URL and SERVICE_URL. The result is disabled
// (empty RegistryURL) unless REGISTRY_URL is set.
func ConfigFromEnv(serviceName, version string) Config {
	cfg := Config{
		RegistryURL: os.Getenv("REGISTRY_URL"),
		ServiceName: serviceName,
		ServiceURL:  os.Getenv("SERVICE_URL"),
		Version:     version,
	}
	if cfg.ServiceURL != "" {
		cfg.HealthURL = cfg.ServiceURL + "/health"
	}
	return cfg
}

// Enabled reports whether the config names a registry.
func (c Config) Enabled() bool {
	return c.RegistryURL != ""
}

type registerRequest struct {
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	URL       string         `json:"url"`
	HealthURL string         `json:"health_url"`
	Version   string         `json:"version"`
	Tools     []string       `json:"tools,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type registerResponse struct {
	Status     string `json:"status"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Client keeps the registration alive with periodic heartbeats.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	registered bool
}

// NewClient creates a client; a disabled config yields a no-op client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		logger:     logger.With("component", "registration", "registry", cfg.RegistryURL),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Start registers in the background and returns immediately.
func (c *Client) Start(ctx context.Context) {
	if !c.cfg.Enabled() {
		c.logger.Debug("service registration disabled")
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop deregisters and ends the heartbeat loop.
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	c.deregister(ctx)
}

// IsRegistered returns whether the last heartbeat succeeded.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Client) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	c.heartbeat(ctx)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeat(ctx)
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	was := c.IsRegistered()
	ttl, err := c.register(ctx)
	if err != nil {
		// A heartbeat cut short by Stop says nothing about the registry.
		if ctx.Err() != nil {
			return
		}
		c.logger.Debug("registration failed", "error", err)
		c.setRegistered(false)
		return
	}
	c.setRegistered(true)
	if !was {
		c.logger.Info("registered with service registry", "name", c.cfg.ServiceName, "ttl_seconds", ttl)
	}
}

func (c *Client) register(ctx context.Context) (int, error) {
	body, err := json.Marshal(registerRequest{
		Name:      c.cfg.ServiceName,
		Type:      "mcp",
		URL:       c.cfg.ServiceURL,
		HealthURL: c.cfg.HealthURL,
		Version:   c.cfg.Version,
		Tools:     c.cfg.Tools,
		Metadata:  c.cfg.Metadata,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RegistryURL+"/api/register", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("registry answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode registry response: %w", err)
	}
	return out.TTLSeconds, nil
}

func (c *Client) deregister(ctx context.Context) {
	if !c.IsRegistered() {
		return
	}
	u := c.cfg.RegistryURL + "/api/register/" + url.PathEscape(c.cfg.ServiceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("deregistration failed", "error", err)
		return
	}
	resp.Body.Close()
	c.setRegistered(false)
	c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
}
