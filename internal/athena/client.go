package athena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrForeignEndpoint is returned for a stream endpoint on another host
var ErrForeignEndpoint = errors.New("sse endpoint is not on the chat host")

// APIError is returned for non-2xx responses
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("athena returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("athena returned status %d: %s", e.StatusCode, e.Body)
}

// Client handles communication with the AthenaPro chat backend
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamingClient has no timeout, streams stay open until the server ends them
	streamingClient *http.Client
	log             *zap.Logger
}

// NewClient creates a new backend client
func NewClient(baseURL, token string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamingClient: &http.Client{},
		log:             log.Named("athena"),
	}
}

// StartChat submits a question and returns the event-stream endpoint for the answer
func (c *Client) StartChat(ctx context.Context, req ChatRequest) (string, error) {
	req.EnableSSE = true

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.baseURL+"/chat/sse/chat", bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.do(c.httpClient, httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if chatResp.Result.SSEEndpoint == "" {
		return "", errors.New("chat response carried no sse endpoint")
	}

	return chatResp.Result.SSEEndpoint, nil
}

// OpenStream opens the event stream at endpoint. The stream lives until ctx is
// cancelled, Close is called or the server ends it.
func (c *Client) OpenStream(ctx context.Context, endpoint string) (*Stream, error) {
	streamURL, err := c.streamURL(endpoint)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	httpReq, err := c.newRequest(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.do(c.streamingClient, httpReq)
	if err != nil {
		cancel()
		return nil, err
	}

	return newStream(resp.Body, cancel), nil
}

// FetchConversation returns one page of a conversation's history
func (c *Client) FetchConversation(ctx context.Context, conversationID string, page int) (*ConversationPage, error) {
	u := fmt.Sprintf("%s/chat/conversation/%s?page=%s",
		c.baseURL, url.PathEscape(conversationID), strconv.Itoa(page))

	httpReq, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(c.httpClient, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ConversationPage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse conversation page: %w", err)
	}
	for i := range result.Result {
		if result.Result[i].Sender == "" {
			result.Result[i].Sender = SenderBot
		}
	}

	return &result, nil
}

// streamURL resolves endpoint against the host and appends the auth token.
// Endpoints naming another host are refused so the token never leaves it.
func (c *Client) streamURL(endpoint string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", c.baseURL, err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid sse endpoint %q: %w", endpoint, err)
	}

	if u.Host != "" {
		if !strings.EqualFold(u.Host, base.Host) || (u.Scheme != "" && u.Scheme != base.Scheme) {
			return "", fmt.Errorf("%w: %s", ErrForeignEndpoint, endpoint)
		}
		u.Scheme = base.Scheme
	} else {
		u, err = url.Parse(c.baseURL + "/" + strings.TrimLeft(u.RequestURI(), "/"))
		if err != nil {
			return "", fmt.Errorf("invalid sse endpoint %q: %w", endpoint, err)
		}
	}

	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do executes req and turns non-2xx statuses into *APIError
func (c *Client) do(hc *http.Client, req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get("X-Request-ID")
	start := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		c.log.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.log.Debug("request done",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}
