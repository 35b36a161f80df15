package ntfy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/wirelessalien/moviesync/internal/config"
)

// Client represents a ntfy notification client.
type Client struct {
	serverURL  string
	topic      string
	username   string
	password   string
	token      string
	httpClient *http.Client
}

// Message represents a ntfy message.
type Message struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Click    string   `json:"click,omitempty"`
	Actions  []Action `json:"actions,omitempty"`
}

// Action represents a ntfy action button.
type Action struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	URL    string `json:"url,omitempty"`
}

// NewClient creates a new ntfy client.
func NewClient(cfg *config.NtfyConfig) *Client {
	if cfg.ServerURL != "" {
		if _, err := url.Parse(cfg.ServerURL); err != nil {
			log.Error("Invalid ntfy server URL", "error", err)
		}
	}

	return &Client{
		serverURL: cfg.ServerURL,
		topic:     cfg.Topic,
		username:  cfg.Username,
		password:  cfg.Password,
		token:     cfg.Token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendMessage sends a message to ntfy.
func (c *Client) SendMessage(ctx context.Context, msg Message) error {
	if c.topic != "" {
		msg.Topic = c.topic
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Markdown", "yes")

	// Token takes precedence over username/password
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if len(body) > 0 {
			return fmt.Errorf("ntfy server returned status %d: %s", resp.StatusCode, body)
		}
		return fmt.Errorf("ntfy server returned status %d", resp.StatusCode)
	}

	log.Debug("Sent ntfy notification", "topic", msg.Topic, "title", msg.Title)
	return nil
}

// Release is an upcoming episode or movie.
type Release struct {
	Title string
	// Detail is the episode label, e.g. "S08E03 The Long Night". Empty for movies.
	Detail string
	// When is the human readable air time, e.g. "in 5 hours".
	When string
	URL  string
}

// SendReminder announces an upcoming release.
func (c *Client) SendReminder(ctx context.Context, r Release) error {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**", r.Title)
	if r.Detail != "" {
		fmt.Fprintf(&b, "\n%s", r.Detail)
	}
	fmt.Fprintf(&b, "\nAirs %s", r.When)

	msg := Message{
		Title:    "Upcoming: " + r.Title,
		Message:  b.String(),
		Priority: 3,
		Tags:     []string{"tv", "moviesync", "reminder"},
		Click:    r.URL,
	}
	if r.URL != "" {
		msg.Actions = []Action{{Action: "view", Label: "Open on Trakt", URL: r.URL}}
	}
	return c.SendMessage(ctx, msg)
}
