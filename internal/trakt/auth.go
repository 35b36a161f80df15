package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

var (
	ErrDeviceCodeExpired = errors.New("trakt: device code expired")
	ErrDeviceCodeUsed    = errors.New("trakt: device code already used")
	ErrDeviceDenied      = errors.New("trakt: user denied the device")
	ErrDeviceCodeInvalid = errors.New("trakt: invalid device code")
)

// DeviceCode is the response of /oauth/device/code.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

func (t tokenResponse) oauth2() *oauth2.Token {
	created := time.Now()
	if t.CreatedAt > 0 {
		created = time.Unix(t.CreatedAt, 0)
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       created.Add(time.Duration(t.ExpiresIn) * time.Second),
	}
}

// RequestDeviceCode starts the device authorization flow.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	resp, err := c.do(ctx, http.MethodPost, "/oauth/device/code", map[string]string{
		"client_id": c.clientID,
	}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get device code: %w", err)
	}
	var code DeviceCode
	if err := decode(resp.body, &code); err != nil {
		return nil, err
	}
	return &code, nil
}

// PollDeviceToken polls until the user approved the device code, it expires or ctx is done.
func (c *Client) PollDeviceToken(ctx context.Context, code *DeviceCode) (*oauth2.Token, error) {
	interval := max(time.Duration(code.Interval)*time.Second, 100*time.Millisecond)
	if code.ExpiresIn > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(code.ExpiresIn)*time.Second)
		defer cancel()
	}

	body, err := json.Marshal(map[string]string{
		"code":          code.DeviceCode,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, ErrDeviceCodeExpired
		}
		resp, err := c.send(ctx, http.MethodPost, "/oauth/device/token", body, false)
		if err == nil {
			var tok tokenResponse
			if err := decode(resp.body, &tok); err != nil {
				return nil, err
			}
			return tok.oauth2(), nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			if ctx.Err() != nil {
				return nil, ErrDeviceCodeExpired
			}
			return nil, err
		}
		switch apiErr.StatusCode {
		case http.StatusBadRequest:
			log.Debug("Waiting for user authorization...")
		case http.StatusTooManyRequests:
			interval += time.Second
		case http.StatusNotFound:
			return nil, ErrDeviceCodeInvalid
		case http.StatusConflict:
			return nil, ErrDeviceCodeUsed
		case http.StatusGone:
			return nil, ErrDeviceCodeExpired
		case 418:
			return nil, ErrDeviceDenied
		default:
			return nil, err
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrDeviceCodeExpired
		case <-timer.C:
		}
	}
}

// Authenticate runs the device flow, calling prompt with the code the user has to enter,
// and stores the resulting token.
func (c *Client) Authenticate(ctx context.Context, prompt func(*DeviceCode)) error {
	code, err := c.RequestDeviceCode(ctx)
	if err != nil {
		return err
	}
	prompt(code)

	tok, err := c.PollDeviceToken(ctx, code)
	if err != nil {
		return err
	}
	if err := c.tokens.SaveToken(ctx, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	c.resetToken()
	log.Info("Authenticated with trakt", "expiry", tok.Expiry)
	return nil
}
