package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Mansoor88-6/time-tracking/internal/apperr"
	"Mansoor88-6/time-tracking/internal/models"
)

// APIClient handles communication with the time tracking server
type APIClient struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// NewAPIClient creates a new API client. The api key is the employee's
// bearer token; the server derives the employee id from it.
func NewAPIClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
		},
		logger: logger,
	}
}

// StartSession opens a session for the token's employee
func (c *APIClient) StartSession(ctx context.Context, req models.StartRequest) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/time-entries/start", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// StopSession stops the given session
func (c *APIClient) StopSession(ctx context.Context, req models.StopRequest) (*models.TimeEntry, error) {
	var entry models.TimeEntry
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/time-entries/stop", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetActiveSession returns the active session or nil. The employee is
// implied by the token; the argument exists so the client and the
// in-process manager share one interface.
func (c *APIClient) GetActiveSession(ctx context.Context, _ string) (*models.TimeEntry, error) {
	var entry *models.TimeEntry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/time-entries/active", nil, &entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// UploadScreenshot sends one artifact as multipart form data
func (c *APIClient) UploadScreenshot(ctx context.Context, up models.ScreenshotUpload) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	fields := map[string]string{
		"id":            up.ID,
		"timeEntryId":   up.TimeEntryID,
		"projectId":     up.ProjectID,
		"taskId":        up.TaskID,
		"mimeType":      up.MimeType,
		"takenAt":       up.TakenAt.UTC().Format(time.RFC3339Nano),
		"width":         strconv.Itoa(up.Width),
		"height":        strconv.Itoa(up.Height),
		"hasPermission": strconv.FormatBool(up.HasPermission),
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, up.ID))
	header.Set("Content-Type", up.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return fmt.Errorf("failed to write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/screenshots", &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, nil)
}

// HealthCheck checks if the server is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.TransientIO("health check", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return apperr.TransientIO("health check", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

// FollowEvents reads the server's event channel and calls onEvent for
// each message until ctx is done or the connection drops.
func (c *APIClient) FollowEvents(ctx context.Context, onEvent func(models.Event)) error {
	wsURL, err := websocketURL(c.baseURL + "/api/v1/events")
	if err != nil {
		return err
	}

	header := http.Header{}
	c.authorize(header)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return &AuthError{Message: "event channel rejected token", StatusCode: resp.StatusCode}
		}
		return apperr.TransientIO("dial event channel", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("Following server events", zap.String("url", wsURL))
	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return apperr.TransientIO("read event channel", err)
		}
		onEvent(ev)
	}
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
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
	return c.do(req, out)
}

func (c *APIClient) do(req *http.Request, out interface{}) error {
	c.authorize(req.Header)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Warn("Request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return apperr.TransientIO(req.Method+" "+req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.TransientIO("read response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Request succeeded",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		if out == nil || len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	}

	return c.statusError(req, resp.StatusCode, body)
}

// statusError turns a non-2xx response into the error the server raised
func (c *APIClient) statusError(req *http.Request, status int, body []byte) error {
	errMsg := fmt.Sprintf("server returned status %d: %s", status, strings.TrimSpace(string(body)))

	if status == http.StatusUnauthorized {
		c.logger.Error("Authentication failed",
			zap.Int("status_code", status),
			zap.String("response", string(body)),
		)
		return &AuthError{Message: errMsg, StatusCode: status}
	}

	var envelope errorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Kind != "" {
		kind := apperr.ParseKind(envelope.Error.Kind)
		err := apperr.New(kind, envelope.Error.Code, envelope.Error.Message)
		if kind == apperr.KindTransientIO {
			err = apperr.TransientIO(envelope.Error.Message, errors.New(errMsg))
		}
		c.logger.Debug("Server rejected request",
			zap.String("path", req.URL.Path),
			zap.Int("status_code", status),
			zap.String("kind", envelope.Error.Kind),
			zap.String("code", envelope.Error.Code),
		)
		return err
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		c.logger.Warn("Server unavailable", zap.Int("status_code", status))
		return apperr.TransientIO(req.Method+" "+req.URL.Path, errors.New(errMsg))
	}

	c.logger.Error("Unexpected response",
		zap.Int("status_code", status),
		zap.String("response", string(body)),
	)
	return apperr.Internal(errMsg, nil)
}

func (c *APIClient) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", "Bearer "+c.apiKey)
	}
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// AuthError is returned when the server rejects the token
type AuthError struct {
	Message    string
	StatusCode int
}

func (e *AuthError) Error() string {
	return e.Message
}
