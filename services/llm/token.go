// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenSource supplies bearer tokens for the model gateway.
//
// Token returns a cached credential when one is available; Refresh
// discards the cache and fetches a new one. Implementations must be safe
// for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// Compile-time interface compliance.
var _ TokenSource = (*IdPTokenSource)(nil)

// IdPTokenSource fetches client-credentials tokens from an identity
// provider.
//
// # Description
//
// Tokens are cached until a caller forces a refresh (typically after a
// 401 from the gateway). Concurrent refreshes are collapsed through
// singleflight so a burst of 401s across goroutines produces a single
// round trip to the IdP.
type IdPTokenSource struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string

	group singleflight.Group

	mu    sync.RWMutex
	token string
}

// NewIdPTokenSource creates a token source for the given IdP endpoint.
func NewIdPTokenSource(tokenURL, clientID, clientSecret string) (*IdPTokenSource, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("IdP token URL is empty")
	}
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("IdP client credentials are not configured")
	}
	return &IdPTokenSource{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}, nil
}

// IdPTokenSourceFromEnv builds an IdPTokenSource from IDP_TOKEN_URL,
// IDP_CLIENT_ID, and IDP_CLIENT_SECRET.
func IdPTokenSourceFromEnv() (*IdPTokenSource, error) {
	return NewIdPTokenSource(
		os.Getenv("IDP_TOKEN_URL"),
		os.Getenv("IDP_CLIENT_ID"),
		os.Getenv("IDP_CLIENT_SECRET"),
	)
}

// Token returns the cached token, fetching one on first use.
func (s *IdPTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return s.Refresh(ctx)
}

// Refresh fetches a new token, collapsing concurrent callers into one
// IdP round trip.
func (s *IdPTokenSource) Refresh(ctx context.Context) (string, error) {
	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		token, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.token = token
		s.mu.Unlock()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *IdPTokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("IdP token call failed", "error", err)
		return "", fmt.Errorf("IdP token call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("IdP returned an error", "status_code", resp.StatusCode)
		return "", fmt.Errorf("IdP failed with status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("IdP returned an empty access token")
	}
	return tokenResp.AccessToken, nil
}

// StaticTokenSource returns a fixed token and never refreshes. Intended
// for tests and local development.
type StaticTokenSource string

func (s StaticTokenSource) Token(_ context.Context) (string, error)   { return string(s), nil }
func (s StaticTokenSource) Refresh(_ context.Context) (string, error) { return string(s), nil }
