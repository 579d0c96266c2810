// ABOUTME: HTTP collaborator wrappers for the workflow engine.
// ABOUTME: Posts trigger events to webhooks and polls execution status.

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const requestTimeout = 10 * time.Second

// Payload is the event body delivered to a workflow webhook.
type Payload struct {
	Content              string   `json:"content,omitempty"`
	ChannelID            string   `json:"channelId,omitempty"`
	PlaceholderID        string   `json:"placeholderId,omitempty"`
	UserID               string   `json:"userId,omitempty"`
	UserName             string   `json:"userName,omitempty"`
	UserTag              string   `json:"userTag,omitempty"`
	MessageID            string   `json:"messageId,omitempty"`
	Presence             string   `json:"presence,omitempty"`
	Nick                 string   `json:"nick,omitempty"`
	AddedRoles           []string `json:"addedRoles,omitempty"`
	RemovedRoles         []string `json:"removedRoles,omitempty"`
	InteractionMessageID string   `json:"interactionMessageId,omitempty"`
	InteractionValues    []string `json:"interactionValues,omitempty"`
	UserRoles            []string `json:"userRoles,omitempty"`
}

// Poster delivers trigger events to workflow webhooks.
type Poster struct {
	httpClient *http.Client
	logger     *slog.Logger

	// testMode routes posts to the engine's test webhook endpoint.
	testMode bool
}

// NewPoster creates a Poster. Pass nil logger for the default.
func NewPoster(testMode bool, logger *slog.Logger) *Poster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger.With("component", "webhook"),
		testMode:   testMode,
	}
}

// Post delivers one event to the webhook identified by webhookID. A non-2xx
// answer or transport failure is a delivery failure reported to the caller;
// the caller decides whether to deactivate the trigger.
func (p *Poster) Post(ctx context.Context, baseURL, webhookID string, payload Payload) error {
	segment := "webhook"
	if p.testMode {
		segment = "webhook-test"
	}
	url := fmt.Sprintf("%s/%s/%s/webhook", baseURL, segment, webhookID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook %s: %w", webhookID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s answered %d", webhookID, resp.StatusCode)
	}

	p.logger.Debug("webhook delivered", "webhook_id", webhookID)
	return nil
}

// StatusClient polls the workflow engine's execution status API.
type StatusClient struct {
	httpClient *http.Client
}

// NewStatusClient creates a StatusClient.
func NewStatusClient() *StatusClient {
	return &StatusClient{httpClient: &http.Client{Timeout: requestTimeout}}
}

type executionStatus struct {
	Finished  *bool   `json:"finished"`
	StoppedAt *string `json:"stoppedAt"`
}

// Finished reports whether the execution has completed. The execution still
// runs only when the API says finished=false with no stop timestamp;
// anything else, including malformed answers, counts as finished so polling
// always terminates.
func (c *StatusClient) Finished(ctx context.Context, baseURL, executionID, apiKey string) (bool, error) {
	url := fmt.Sprintf("%s/executions/%s", baseURL, executionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return true, fmt.Errorf("building status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("fetching execution %s status: %w", executionID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return true, fmt.Errorf("status API answered %d for execution %s", resp.StatusCode, executionID)
	}

	var st executionStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return true, fmt.Errorf("decoding execution %s status: %w", executionID, err)
	}

	stillRunning := st.Finished != nil && !*st.Finished && st.StoppedAt == nil
	return !stillRunning, nil
}
