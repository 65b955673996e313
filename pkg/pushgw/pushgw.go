// Package pushgw provides a client for an external push notification gateway.
package pushgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abrezinsky/eventxp/internal/logger"
)

// Message is one notification handed to the gateway for delivery
type Message struct {
	Type       string   `json:"type"`
	EventID    string   `json:"eventId"`
	EventName  string   `json:"eventName,omitempty"`
	Recipients []string `json:"recipients"`
	Data       any      `json:"data,omitempty"`
}

// Outcome is the gateway's verdict on a request
type Outcome struct {
	Summary     string `json:"summary"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// PushResponse is the response from the push endpoint
type PushResponse struct {
	Accepted int     `json:"accepted"`
	Outcome  Outcome `json:"outcome"`
}

// Client defines the interface for push gateway operations
type Client interface {
	// Push hands a message to the gateway. Delivery itself is the gateway's concern.
	Push(ctx context.Context, msg Message) error
	// BaseURL returns the configured gateway base URL
	BaseURL() string
}

// HTTPClient is a real HTTP client for the push gateway
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPClient creates a gateway client with the given request timeout
func NewHTTPClient(baseURL string, timeout time.Duration, log logger.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// NewHTTPClientWithHTTPClient creates a gateway client with a custom http.Client
func NewHTTPClientWithHTTPClient(baseURL string, httpClient *http.Client, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// BaseURL returns the configured gateway base URL
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Push posts msg as JSON to {baseURL}/push
func (c *HTTPClient) Push(ctx context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	apiURL := c.baseURL + "/push"
	c.log.Debug("Push gateway request", "url", apiURL, "type", msg.Type, "recipients", len(msg.Recipients))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to push gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("Push gateway response", "status", resp.StatusCode, "body", string(body))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, string(body))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	var response PushResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if response.Outcome.Summary == "failure" {
		return fmt.Errorf("push gateway error: %s (%s)", response.Outcome.Description, response.Outcome.Code)
	}
	return nil
}
