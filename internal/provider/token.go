package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// expiryMargin is subtracted from the reported token lifetime so a token is
// refreshed before it can expire mid-request.
const expiryMargin = 60 * time.Second

// TokenManager owns the single cached bearer credential for the aggregator
// API. Reads of a still-valid token are cheap; an expired token triggers
// exactly one outbound exchange regardless of how many callers observe the
// expiry at once.
type TokenManager struct {
	httpClient *http.Client
	baseURL    string
	secretID   string
	secretKey  string
	logger     *zap.Logger

	mu            sync.RWMutex
	accessToken   string
	accessExpiry  time.Time
	refreshToken  string
	refreshExpiry time.Time

	group singleflight.Group
}

// NewTokenManager creates a token manager for the given API credentials.
func NewTokenManager(baseURL, secretID, secretKey string, logger *zap.Logger) *TokenManager {
	return &TokenManager{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		secretID:   secretID,
		secretKey:  secretKey,
		logger:     logger.Named("token_manager"),
	}
}

// GetValidToken returns a bearer token with remaining lifetime above the
// safety margin, performing a token exchange if needed. A failed exchange
// leaves any cached state untouched so the next caller retries.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.RLock()
	token, valid := m.accessToken, time.Now().Before(m.accessExpiry)
	m.mu.RUnlock()
	if valid {
		return token, nil
	}

	result, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// A concurrent flight may have refreshed while we waited.
		m.mu.RLock()
		token, valid := m.accessToken, time.Now().Before(m.accessExpiry)
		m.mu.RUnlock()
		if valid {
			return token, nil
		}
		return m.exchange(ctx)
	})
	if err != nil {
		return "", err
	}

	return result.(string), nil
}

// exchange obtains a fresh access token, using the refresh grant when a
// refresh token is still usable and a full secret exchange otherwise.
func (m *TokenManager) exchange(ctx context.Context) (string, error) {
	m.mu.RLock()
	refresh, refreshUsable := m.refreshToken, time.Now().Before(m.refreshExpiry)
	m.mu.RUnlock()

	var (
		response tokenResponse
		err      error
	)
	if refreshUsable {
		err = m.postToken(ctx, "/token/refresh/", tokenRefreshRequest{Refresh: refresh}, &response)
		if err != nil {
			m.logger.Warn("Token refresh failed, falling back to full exchange", zap.Error(err))
			refreshUsable = false
		}
	}
	if !refreshUsable {
		err = m.postToken(ctx, "/token/new/", tokenRequest{SecretID: m.secretID, SecretKey: m.secretKey}, &response)
	}
	if err != nil {
		return "", fmt.Errorf("failed to obtain access token: %w", err)
	}
	if response.Access == "" {
		return "", fmt.Errorf("token endpoint returned an empty access token")
	}

	now := time.Now()
	m.mu.Lock()
	m.accessToken = response.Access
	m.accessExpiry = now.Add(time.Duration(response.AccessExpires)*time.Second - expiryMargin)
	if response.Refresh != "" {
		m.refreshToken = response.Refresh
		m.refreshExpiry = now.Add(time.Duration(response.RefreshExpires)*time.Second - expiryMargin)
	}
	m.mu.Unlock()

	m.logger.Debug("Access token refreshed",
		zap.Int("expires_in_seconds", response.AccessExpires))

	return response.Access, nil
}

func (m *TokenManager) postToken(ctx context.Context, path string, payload interface{}, out *tokenResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal token request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := m.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &APIError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	return nil
}
