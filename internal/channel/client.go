package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zapvendas/zapfunnel/pkg/logging"
)

var sendTracer = otel.Tracer("zapfunnel.internal.channel.send")

// Client posts messages to the WhatsApp gateway's HTTP API. Sends are
// fire-and-confirm: a call returns only after the gateway acknowledges,
// which is the ordering primitive the dispatcher builds on.
type Client struct {
	baseURL    string
	apiToken   string
	instanceID string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient builds a WhatsApp gateway client.
func NewClient(baseURL, apiToken, instanceID string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		instanceID: instanceID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

type sendPayload struct {
	To       string `json:"to"`
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// SendText delivers a text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, address, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", errors.New("channel: body required")
	}
	return c.send(ctx, sendPayload{To: address, Type: "text", Text: body})
}

// SendAudio delivers a voice note by URL.
func (c *Client) SendAudio(ctx context.Context, address, url string) (string, error) {
	if url == "" {
		return "", errors.New("channel: audio url required")
	}
	return c.send(ctx, sendPayload{To: address, Type: "audio", MediaURL: url})
}

// SendImage delivers an image by URL.
func (c *Client) SendImage(ctx context.Context, address, url string) (string, error) {
	if url == "" {
		return "", errors.New("channel: image url required")
	}
	return c.send(ctx, sendPayload{To: address, Type: "image", MediaURL: url})
}

func (c *Client) send(ctx context.Context, payload sendPayload) (string, error) {
	if c.apiToken == "" {
		return "", errors.New("channel: api token missing")
	}
	if payload.To == "" {
		return "", errors.New("channel: to required")
	}

	ctx, span := sendTracer.Start(ctx, "channel.whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("zapfunnel.to", payload.To),
		attribute.String("zapfunnel.kind", payload.Type),
	)

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("channel: marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/instances/%s/messages", c.baseURL, c.instanceID)

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", fmt.Errorf("channel: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else {
			respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			_ = resp.Body.Close()
			switch {
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				var out sendResponse
				if readErr == nil {
					_ = json.Unmarshal(respBody, &out)
				}
				return out.ID, nil
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("channel: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			default:
				return "", fmt.Errorf("channel: gateway rejected send (%d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			}
		}

		if attempt < 3 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
			c.logger.Warn("whatsapp send failed, retrying",
				"attempt", attempt,
				"kind", payload.Type,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("channel: send failed after retries: %w", lastErr)
}
