// Package sessionregistry is the write/delete client for the remote store of
// active sessions. The registry itself is an external collaborator; only
// register, update and remove are consumed.
package sessionregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// Session is the registration payload for a new active session.
type Session struct {
	UserID int64  `json:"usuarioId"`
	Name   string `json:"nome"`
	Email  string `json:"email"`
	Group  string `json:"grupoAcesso"`
}

// Client is an HTTP client for the session registry.
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

// Register records a new active session.
func (c *Client) Register(ctx context.Context, sess Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessionregistry: encode register: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/SessaoAtiva/registrar", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sessionregistry: build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "register")
}

// Update reports liveness and the user's current page. Used by both the
// periodic heartbeat ping and the debounced location-update path.
func (c *Client) Update(ctx context.Context, userID int64, currentPage string) error {
	body, err := json.Marshal(map[string]string{"paginaAtual": currentPage})
	if err != nil {
		return fmt.Errorf("sessionregistry: encode update: %w", err)
	}
	url := c.base + "/SessaoAtiva/atualizar/" + strconv.FormatInt(userID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sessionregistry: build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "update")
}

// Remove deletes the active session; called once at logout.
func (c *Client) Remove(ctx context.Context, userID int64) error {
	url := c.base + "/SessaoAtiva/remover/" + strconv.FormatInt(userID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("sessionregistry: build remove request: %w", err)
	}
	return c.do(req, "remove")
}

func (c *Client) do(req *http.Request, op string) error {
	if token, ok := shared.TokenFromContext(req.Context()); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sessionregistry: %s: %w: %v", op, shared.ErrNetwork, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("sessionregistry: %s rejected: %w", op, shared.ErrAuth)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("sessionregistry: %s status %d: %w", op, resp.StatusCode, shared.ErrNetwork)
	}
	return nil
}
