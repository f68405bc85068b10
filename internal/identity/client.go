// Package identity talks to the remote identity authority. Only the output
// of the login exchange (user identity, group name, branch) and the raw
// capability grants are consumed here; how permissions are authored is the
// authority's business.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// Client is an HTTP client for the identity authority.
type Client struct {
	base string
	http *http.Client
}

// NewClient constructs a Client. A nil httpClient gets a sane default.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: baseURL, http: httpClient}
}

// LoginResult is the identity-provider output consumed by the rest of the
// system.
type LoginResult struct {
	UserID    int64  `json:"id"`
	Name      string `json:"nome"`
	Email     string `json:"email"`
	GroupName string `json:"grupoAcesso"`
	Branch    string `json:"filial"`
	Token     string `json:"token"`
}

// Login exchanges credentials for an identity. 401/403 map to
// shared.ErrInvalidCredentials; transport and payload failures map to the
// shared taxonomy.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body, err := json.Marshal(map[string]string{"email": email, "senha": password})
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: encode login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/Auth/login", bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return LoginResult{}, fmt.Errorf("identity: login: %w: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return LoginResult{}, shared.ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return LoginResult{}, fmt.Errorf("identity: login status %d: %w", resp.StatusCode, shared.ErrNetwork)
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LoginResult{}, fmt.Errorf("identity: decode login: %w", shared.ErrData)
	}
	if result.UserID == 0 {
		return LoginResult{}, fmt.Errorf("identity: login payload missing user id: %w", shared.ErrData)
	}
	return result, nil
}

type userStatusPayload struct {
	GroupName string   `json:"grupoAcesso"`
	Branch    string   `json:"filial"`
	Grants    []string `json:"permissoes"`
}

// UserStatus fetches the flat capability set and group name for the user.
// The session token carried in ctx authenticates the call. Implements
// access.GrantSource.
func (c *Client) UserStatus(ctx context.Context, userID int64) (access.UserStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/Permission/user-status", nil)
	if err != nil {
		return access.UserStatus{}, fmt.Errorf("identity: build status request: %w", err)
	}
	q := req.URL.Query()
	q.Set("userId", strconv.FormatInt(userID, 10))
	req.URL.RawQuery = q.Encode()
	if token, ok := shared.TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return access.UserStatus{}, fmt.Errorf("identity: user status: %w: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return access.UserStatus{}, fmt.Errorf("identity: user status rejected: %w", shared.ErrAuth)
	case resp.StatusCode != http.StatusOK:
		return access.UserStatus{}, fmt.Errorf("identity: user status %d: %w", resp.StatusCode, shared.ErrNetwork)
	}

	var payload userStatusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return access.UserStatus{}, fmt.Errorf("identity: decode user status: %w", shared.ErrData)
	}
	return access.UserStatus{
		GroupName: payload.GroupName,
		Branch:    payload.Branch,
		Grants:    payload.Grants,
	}, nil
}
