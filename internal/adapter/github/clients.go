package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"

	"issuedigger/internal/vector"
)

// Clients hands out one authenticated client per installation. A client is created on
// first use and kept for the lifetime of the process.
type Clients struct {
	appID      int64
	privateKey []byte
	appSlug    string
	baseURL    string
	transport  http.RoundTripper

	mu      sync.Mutex
	clients map[int64]*Client
}

type Option func(*Clients)

// WithBaseURL points the clients at a GitHub Enterprise or test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Clients) { c.baseURL = baseURL }
}

func WithTransport(tr http.RoundTripper) Option {
	return func(c *Clients) { c.transport = tr }
}

func NewClients(appID int64, privateKey []byte, appSlug string, opts ...Option) *Clients {
	c := &Clients{
		appID:      appID,
		privateKey: privateKey,
		appSlug:    appSlug,
		transport:  http.DefaultTransport,
		clients:    make(map[int64]*Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForInstallation returns the client authenticated as installationID.
func (c *Clients) ForInstallation(installationID int64) (*Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[installationID]; ok {
		return client, nil
	}

	slog.Info("creating github client", "app_id", c.appID, "installation_id", installationID)
	itr, err := ghinstallation.New(c.transport, c.appID, installationID, c.privateKey)
	if err != nil {
		return nil, fmt.Errorf("authenticate installation %d: %w", installationID, err)
	}
	if c.baseURL != "" {
		itr.BaseURL = c.baseURL
	}

	client, err := NewClient(&http.Client{Transport: itr}, c.baseURL, c.appSlug)
	if err != nil {
		return nil, err
	}
	c.clients[installationID] = client
	return client, nil
}

// PostReaction reacts to a comment as the given installation.
func (c *Clients) PostReaction(ctx context.Context, installationID int64, repo vector.Repository, commentID int64, content string) error {
	client, err := c.ForInstallation(installationID)
	if err != nil {
		return err
	}
	return client.PostReaction(ctx, repo, commentID, content)
}
