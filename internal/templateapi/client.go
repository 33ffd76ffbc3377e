package templateapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"trustpipe/internal/config"
	"trustpipe/internal/constants"
	"trustpipe/internal/logger"
	"trustpipe/pkg/circuitbreaker"
	"trustpipe/pkg/errors"
)

// RemoteTemplate is the provider's current definition of one template. Body
// still contains the raw placeholder markers.
type RemoteTemplate struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Fetcher retrieves template definitions from the notification provider.
type Fetcher interface {
	FetchTemplate(ctx context.Context, templateID string) (*RemoteTemplate, error)
}

// Client talks to the provider's template API behind a circuit breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *circuitbreaker.Wrapper
	logger     logger.Logger
}

func NewClient(cfg config.ProviderConfig, log logger.Logger) *Client {
	timeout := constants.DefaultProviderTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = cfg.TimeoutSeconds * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		breaker: circuitbreaker.NewWrapper(circuitbreaker.DefaultConfig("template-provider")),
		logger:  log,
	}
}

// FetchTemplate retrieves one template definition by id. Provider outages
// and 5xx responses come back retriable; a template the provider does not
// know about is permanent, since retrying cannot make it appear.
func (c *Client) FetchTemplate(ctx context.Context, templateID string) (*RemoteTemplate, error) {
	result, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.fetch(ctx, templateID)
	})
	if err != nil {
		c.breaker.RecordRequest(false)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, errors.Retriable("PROVIDER_UNAVAILABLE", "template provider circuit is open").WithCause(err)
		}
		return nil, err
	}

	c.breaker.RecordRequest(true)
	return result.(*RemoteTemplate), nil
}

func (c *Client) fetch(ctx context.Context, templateID string) (*RemoteTemplate, error) {
	url := fmt.Sprintf("%s/v2/templates/%s", c.baseURL, templateID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Permanent("PROVIDER_REQUEST", "failed to build template request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Retriable("PROVIDER_UNAVAILABLE", "template provider request failed").WithCause(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Permanent("TEMPLATE_NOT_FOUND", "template provider does not know this template").
			WithDetail("template_id", templateID)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Permanent("PROVIDER_AUTH", "template provider rejected the API key").
			WithDetail("status", fmt.Sprintf("%d", resp.StatusCode))
	case resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax:
		return nil, errors.Retriable("PROVIDER_UNAVAILABLE", "template provider returned an error status").
			WithDetail("status", fmt.Sprintf("%d", resp.StatusCode)).
			WithDetail("template_id", templateID)
	}

	var tmpl RemoteTemplate
	if err := json.NewDecoder(resp.Body).Decode(&tmpl); err != nil {
		return nil, errors.Retriable("PROVIDER_RESPONSE", "failed to decode template response").WithCause(err)
	}

	if tmpl.ID == "" {
		tmpl.ID = templateID
	}

	return &tmpl, nil
}
