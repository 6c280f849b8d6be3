package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleUserInfo represents user data from Google OAuth
type GoogleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Picture       string `json:"picture"`
	Name          string `json:"name"`
	Audience      string `json:"aud"`
}

// GoogleVerifier checks Google ID tokens against the tokeninfo endpoint.
type GoogleVerifier struct {
	Client   *http.Client
	Endpoint string
	ClientID string // optional audience check
}

func (g *GoogleVerifier) Verify(ctx context.Context, idToken string) (*GoogleUserInfo, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = googleTokenInfoURL
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?id_token="+url.QueryEscape(idToken), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid google token")
	}

	var user GoogleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if !strings.EqualFold(user.EmailVerified, "true") {
		return nil, fmt.Errorf("email not verified")
	}
	if g.ClientID != "" && user.Audience != g.ClientID {
		return nil, fmt.Errorf("token issued for another client")
	}
	return &user, nil
}
