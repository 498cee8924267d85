package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "remotedev/0.1"

type ntfyService struct {
	endpoint string
	client   *http.Client
}

// NewNtfy returns a Service posting to the ntfy topic URL. A channel that is
// itself an http(s) URL overrides the topic for that message.
func NewNtfy(topic string, timeout time.Duration) Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: strings.TrimSpace(topic),
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *ntfyService) Send(ctx context.Context, channel string, msg Message) error {
	endpoint := n.endpoint
	if channel = strings.TrimSpace(channel); strings.HasPrefix(channel, "http://") || strings.HasPrefix(channel, "https://") {
		endpoint = channel
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)
	if msg.Title != "" {
		req.Header.Set("Title", msg.Title)
	}
	if len(msg.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.Tags, ","))
	}
	if msg.Priority != "" {
		req.Header.Set("Priority", msg.Priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ntfy returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
