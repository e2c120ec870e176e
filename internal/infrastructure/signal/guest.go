package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fluxx/internal/core/domain"
)

const guestPath = "/api/v1/auth/guest"

var guestHTTPClient = &http.Client{Timeout: 10 * time.Second}

// GuestEndpoint maps the signaling websocket url onto the guest auth
// endpoint served by the same host.
func GuestEndpoint(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = guestPath
	u.RawQuery = ""
	return u.String(), nil
}

// RequestGuestToken asks the server for an anonymous identity.
func RequestGuestToken(ctx context.Context, wsURL, displayName string) (*domain.User, string, error) {
	endpoint, err := GuestEndpoint(wsURL)
	if err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(map[string]string{"display_name": displayName})
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := guestHTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("guest auth: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out struct {
		UserID      string `json:"user_id"`
		DisplayName string `json:"display_name"`
		Token       string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, "", fmt.Errorf("guest auth: %w", err)
	}
	if out.Token == "" {
		return nil, "", fmt.Errorf("guest auth: empty token")
	}
	return &domain.User{ID: domain.UserID(out.UserID), DisplayName: out.DisplayName}, out.Token, nil
}
