package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// ControlClient talks to a running agent's control server
type ControlClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewControlClient(port int, timeout time.Duration) *ControlClient {
	return &ControlClient{
		baseURL:    fmt.Sprintf("http://localhost:%d", port),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *ControlClient) Start(ctx context.Context, req StartRequest) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/start", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *ControlClient) Stop(ctx context.Context, req StopRequest) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/stop", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *ControlClient) Status(ctx context.Context) (*models.AgentStatus, error) {
	var status models.AgentStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/session/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *ControlClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.TransientIO("reach agent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	var envelope errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Kind == "" {
		return apperr.Internal(fmt.Sprintf("agent returned status %d", resp.StatusCode), err)
	}
	return apperr.New(apperr.ParseKind(envelope.Error.Kind), envelope.Error.Code, envelope.Error.Message)
}
