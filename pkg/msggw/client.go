package msggw

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotConfigured is returned when the client has no base URL
var ErrNotConfigured = errors.New("message gateway not configured")

// Client is a message gateway API client
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a new gateway client
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// NewClientWithHTTPClient creates a new gateway client with a custom HTTP client
func NewClientWithHTTPClient(config *ClientConfig, httpClient *http.Client) *Client {
	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Client) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest performs a signed POST, retrying transport failures
func (c *Client) doRequest(ctx context.Context, endpoint string, reqBody interface{}, result interface{}) error {
	if c.config.BaseURL == "" {
		return ErrNotConfigured
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	signature := c.computeHMAC(bodyBytes)

	retryCount := c.config.RetryCount
	if retryCount == 0 {
		retryCount = 1
	}

	var resp *http.Response
	var lastErr error
	for i := 0; i < retryCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.config.APIKey)
		req.Header.Set("x-api-hmac", signature)

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	if resp == nil {
		return fmt.Errorf("request failed after %d attempts: %w", retryCount, lastErr)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("gateway returned status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}

	return nil
}

// SendMessage queues a message for delivery
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*SendMessageResult, error) {
	if req.SenderID == "" {
		req.SenderID = c.config.SenderID
	}
	if req.Channel == "" {
		req.Channel = ChannelSMS
	}

	var resp Response[SendMessageResult]
	if err := c.doRequest(ctx, "/messages", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &APIError{Code: ErrUnexpectedError, Message: "empty gateway response"}
	}

	return resp.Result, nil
}

// MessageStatus retrieves the delivery status of a queued message
func (c *Client) MessageStatus(ctx context.Context, messageID string) (*MessageStatusResult, error) {
	req := &MessageStatusRequest{MessageID: messageID}

	var resp Response[MessageStatusResult]
	if err := c.doRequest(ctx, "/messages/status", req, &resp); err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.Result == nil {
		return nil, &APIError{Code: ErrUnexpectedError, Message: "empty gateway response"}
	}

	return resp.Result, nil
}
