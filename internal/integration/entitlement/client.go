package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/flexprice/plancore/internal/config"
	domain "github.com/flexprice/plancore/internal/domain/entitlement"
	ierr "github.com/flexprice/plancore/internal/errors"
	"github.com/flexprice/plancore/internal/httpclient"
	"github.com/flexprice/plancore/internal/logger"
)

// Client talks to the entitlement service REST API
type Client struct {
	baseURL string
	apiKey  string
	http    httpclient.Client
	logger  *logger.Logger
}

// NewClient creates an entitlement gateway backed by a retrying HTTP client
func NewClient(cfg *config.Configuration, log *logger.Logger) domain.Gateway {
	return NewClientWithHTTP(cfg, httpclient.NewRetryingClient(httpclient.ClientConfig{
		Timeout:   cfg.Entitlement.Timeout,
		RetryMax:  cfg.Entitlement.RetryMax,
		RateLimit: cfg.Entitlement.RateLimit,
	}, log), log)
}

// NewClientWithHTTP allows swapping the transport, used in tests
func NewClientWithHTTP(cfg *config.Configuration, hc httpclient.Client, log *logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.Entitlement.BaseURL, "/"),
		apiKey:  cfg.Entitlement.APIKey,
		http:    hc,
		logger:  log,
	}
}

func (c *Client) Open(ctx context.Context) error {
	if _, err := url.ParseRequestURI(c.baseURL); err != nil {
		return ierr.WithError(err).
			WithHint("Entitlement service base URL is invalid").
			Mark(ierr.ErrValidation)
	}
	c.logger.Infow("entitlement gateway ready", "base_url", c.baseURL)
	return nil
}

func (c *Client) Close() error {
	return nil
}

func (c *Client) UpsertContract(ctx context.Context, userID, username, plan string, addonNames []string) error {
	return c.do(ctx, http.MethodPut, c.contractURL(userID), &domain.Contract{
		UserID:     userID,
		Username:   username,
		Plan:       plan,
		AddonNames: nonNil(addonNames),
	})
}

func (c *Client) UpdateContract(ctx context.Context, userID, plan string, addonNames []string) error {
	return c.do(ctx, http.MethodPatch, c.contractURL(userID), &domain.Contract{
		UserID:     userID,
		Plan:       plan,
		AddonNames: nonNil(addonNames),
	})
}

func (c *Client) DowngradeToFree(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, c.contractURL(userID)+"/downgrade", nil)
}

// DeleteContract treats a missing contract as already deleted
func (c *Client) DeleteContract(ctx context.Context, userID string) error {
	err := c.do(ctx, http.MethodDelete, c.contractURL(userID), nil)
	if httpErr, ok := httpclient.IsHTTPError(err); ok && httpErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) contractURL(userID string) string {
	return fmt.Sprintf("%s/v1/contracts/%s", c.baseURL, url.PathEscape(userID))
}

func (c *Client) do(ctx context.Context, method, target string, payload any) error {
	req := &httpclient.Request{
		Method:  method,
		URL:     target,
		Headers: map[string]string{"Accept": "application/json"},
	}
	if c.apiKey != "" {
		req.Headers["Authorization"] = "Bearer " + c.apiKey
	}
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return ierr.WithError(err).WithHint("Failed to encode entitlement contract").Mark(ierr.ErrInternal)
		}
		req.Body = body
	}

	if _, err := c.http.Send(ctx, req); err != nil {
		c.logger.Warnw("entitlement request failed", "method", method, "url", target, "error", err)
		return ierr.WithError(err).
			WithHint("Entitlement service request failed").
			WithReportableDetails(map[string]any{"method": method}).
			Mark(ierr.ErrHTTPClient)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
