package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/muratdemir0/gopulse-dispatch/internal/adapters/ohttp"
	"github.com/muratdemir0/gopulse-dispatch/internal/telemetry"
)

const (
	DefaultSendPath   = "/send/text"
	DefaultStatusPath = "/instance/status"

	HeaderToken = "token"

	// MessageIDPlaceholder is substituted in status paths.
	MessageIDPlaceholder = "{messageId}"

	maxErrorBodyChars = 300
)

var ErrIncompleteCredentials = errors.New("gateway base url and token are required")

type Credentials struct {
	BaseURL    string
	Token      string
	SendPath   string
	StatusPath string
}

func (c Credentials) Complete() bool {
	return c.BaseURL != "" && c.Token != ""
}

type SendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type SendResponse struct {
	MessageID string
	Body      map[string]any
}

// StatusError is returned for any non-2xx gateway response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway %d · %s", e.StatusCode, e.Body)
}

type Client struct {
	httpClient *ohttp.Client
}

func NewClient(httpClient *ohttp.Client) *Client {
	return &Client{httpClient: httpClient}
}

func (c *Client) SendText(ctx context.Context, creds Credentials, message SendRequest) (*SendResponse, error) {
	if !creds.Complete() {
		return nil, ErrIncompleteCredentials
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	fullURL := joinURL(creds.BaseURL, normalizePath(creds.SendPath, DefaultSendPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, err
	}
	setHeaders(req, creds.Token)

	body, err := c.do(req, "send")
	if err != nil {
		return nil, err
	}

	return &SendResponse{MessageID: sentMessageID(body), Body: body}, nil
}

// Status fetches the gateway's view of a sent message.
func (c *Client) Status(ctx context.Context, creds Credentials, messageID string) (map[string]any, error) {
	if !creds.Complete() {
		return nil, ErrIncompleteCredentials
	}

	fullURL := joinURL(creds.BaseURL, statusPath(creds.StatusPath, messageID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	setHeaders(req, creds.Token)

	return c.do(req, "status")
}

func (c *Client) do(req *http.Request, operation string) (map[string]any, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	telemetry.GatewayRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("gateway %s request: %w", operation, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBodyChars)}
	}

	body := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		// a 2xx with a non-object body is still an accepted message
		_ = json.Unmarshal(raw, &body)
	}
	return body, nil
}

func setHeaders(req *http.Request, token string) {
	req.Header.Set(HeaderToken, token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func normalizePath(path, fallback string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return fallback
	}
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func statusPath(path, messageID string) string {
	path = normalizePath(path, DefaultStatusPath)
	if strings.Contains(path, MessageIDPlaceholder) {
		return strings.ReplaceAll(path, MessageIDPlaceholder, url.PathEscape(messageID))
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "id=" + url.QueryEscape(messageID)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
