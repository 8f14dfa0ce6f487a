// Package notify sends SMS messages through an HTTP messaging gateway.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultTimeout = 15 * time.Second

var phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)

// Client communicates with an SMS gateway's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	sender     string
	httpClient *http.Client
}

// NewClient creates an SMS client. sender is the originating number or
// alphanumeric sender ID.
func NewClient(baseURL, apiKey, sender string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		sender:     sender,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send delivers one SMS and returns the gateway's delivery id. Phone numbers
// must be E.164 formatted ("+" followed by 10-15 digits).
func (c *Client) Send(ctx context.Context, phone, message string) (string, error) {
	if !phonePattern.MatchString(phone) {
		return "", fmt.Errorf("invalid phone number %q: must be '+' followed by 10-15 digits", phone)
	}

	body, err := json.Marshal(map[string]string{
		"from": c.sender,
		"to":   phone,
		"body": message,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding gateway response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway response missing delivery id")
	}
	return out.ID, nil
}
