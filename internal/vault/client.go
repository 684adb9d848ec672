// Package vault stores per-user brokerage credentials in a HashiCorp Vault
// KV v2 mount. With Vault disabled the client degrades to an in-memory store
// so development and tests run without a server.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"sentiment-trading-bot/config"
)

// Credentials is one user's brokerage access material.
type Credentials struct {
	AppKey    string `json:"app_key"`
	AppSecret string `json:"app_secret"`
	Account   string `json:"account"`
	Sandbox   bool   `json:"sandbox"`
}

// Client wraps the Vault API client with a read-through cache.
type Client struct {
	client *api.Client
	cfg    config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*Credentials
}

// NewClient creates a client. With cfg.Enabled false no connection is made
// and all operations run against the local cache.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		cfg:   cfg,
		cache: make(map[string]*Credentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// NewMockClient returns a cache-only client for tests.
func NewMockClient() *Client {
	return &Client{cache: make(map[string]*Credentials)}
}

// Enabled reports whether a real Vault backs the store.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled
}

// Store writes a user's credentials.
func (c *Client) Store(ctx context.Context, userID string, creds Credentials) error {
	if c.cfg.Enabled {
		payload := map[string]interface{}{
			"data": map[string]interface{}{
				"app_key":    creds.AppKey,
				"app_secret": creds.AppSecret,
				"account":    creds.Account,
				"sandbox":    creds.Sandbox,
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(userID), payload); err != nil {
			return fmt.Errorf("store credentials for %s: %w", userID, err)
		}
	}

	c.mu.Lock()
	c.cache[userID] = &creds
	c.mu.Unlock()
	return nil
}

// Get reads a user's credentials, consulting the cache first.
func (c *Client) Get(ctx context.Context, userID string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[userID]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.cfg.Enabled {
		return nil, fmt.Errorf("no credentials for %s and vault is disabled", userID)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(userID))
	if err != nil {
		return nil, fmt.Errorf("read credentials for %s: %w", userID, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no credentials for %s", userID)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format for %s", userID)
	}

	creds := &Credentials{
		AppKey:    getString(data, "app_key"),
		AppSecret: getString(data, "app_secret"),
		Account:   getString(data, "account"),
		Sandbox:   getBool(data, "sandbox"),
	}

	c.mu.Lock()
	c.cache[userID] = creds
	c.mu.Unlock()
	return creds, nil
}

// Delete removes a user's credentials from Vault and the cache.
func (c *Client) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()

	if !c.cfg.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(userID)); err != nil {
		return fmt.Errorf("delete credentials for %s: %w", userID, err)
	}
	return nil
}

// Invalidate drops a user's cached credentials so the next read hits Vault.
func (c *Client) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

// Health checks the Vault connection. A disabled client is always healthy.
func (c *Client) Health(context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(userID string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.cfg.MountPath, c.cfg.SecretPath, userID)
}

func (c *Client) metadataPath(userID string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.cfg.MountPath, c.cfg.SecretPath, userID)
}

func getString(data map[string]interface{}, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	switch v := data[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
