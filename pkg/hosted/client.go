// Package hosted implements the account store over the hosted identity and
// document services.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-accounts/pkg/domain"
)

const defaultTimeout = 10 * time.Second

// Client talks to an accountd instance over HTTP/JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL. A nil httpClient
// uses one with a ten second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Session is a signed-in identity and its access token.
type Session struct {
	Identity  *domain.Identity  `json:"identity"`
	Tokens    *domain.TokenPair `json:"tokens"`
	IsNewUser bool              `json:"isNewUser"`
}

// ProfileUpdate holds identity profile changes. Nil fields are left alone.
type ProfileUpdate struct {
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`
}

type identityResponse struct {
	Identity *domain.Identity  `json:"identity"`
	Tokens   *domain.TokenPair `json:"tokens,omitempty"`
}

// SignUp creates an email/password identity.
func (c *Client) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/v1/identity/signup", "", credentials{email, password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignIn verifies an email/password pair.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/v1/identity/signin", "", credentials{email, password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignInFederated signs in with the simulated provider.
func (c *Client) SignInFederated(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/v1/identity/federated", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reauthenticate replays the password and returns a session with a fresh
// auth time.
func (c *Client) Reauthenticate(ctx context.Context, token, password string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodPost, "/v1/identity/reauth", token, map[string]string{"password": password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Identity returns the signed-in identity.
func (c *Client) Identity(ctx context.Context, token string) (*domain.Identity, error) {
	var out identityResponse
	if err := c.do(ctx, http.MethodGet, "/v1/identity", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Identity, nil
}

// UpdateProfile changes the display name and photo URL.
func (c *Client) UpdateProfile(ctx context.Context, token string, update ProfileUpdate) (*domain.Identity, error) {
	var out identityResponse
	if err := c.do(ctx, http.MethodPatch, "/v1/identity/profile", token, update, &out); err != nil {
		return nil, err
	}
	return out.Identity, nil
}

// ChangeEmail moves the identity to newEmail and returns it with a token
// carrying the new address.
func (c *Client) ChangeEmail(ctx context.Context, token, newEmail string) (*Session, error) {
	var out identityResponse
	if err := c.do(ctx, http.MethodPut, "/v1/identity/email", token, map[string]string{"email": newEmail}, &out); err != nil {
		return nil, err
	}
	return &Session{Identity: out.Identity, Tokens: out.Tokens}, nil
}

// ChangePassword sets a new password.
func (c *Client) ChangePassword(ctx context.Context, token, newPassword string) error {
	return c.do(ctx, http.MethodPut, "/v1/identity/password", token, map[string]string{"password": newPassword}, nil)
}

// DeleteIdentity removes the signed-in identity.
func (c *Client) DeleteIdentity(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/v1/identity", token, nil, nil)
}

// SendPasswordReset asks the service to mail a reset link to email.
func (c *Client) SendPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/v1/identity/password-reset", "", map[string]string{"email": email}, nil)
}

// ConfirmPasswordReset sets the password named by a reset token.
func (c *Client) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	return c.do(ctx, http.MethodPost, "/v1/identity/password-reset/confirm", "",
		map[string]string{"token": resetToken, "password": newPassword}, nil)
}

// Document returns the user's document.
func (c *Client) Document(ctx context.Context, token string, userID uuid.UUID) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, http.MethodGet, documentPath(userID), token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutDocument creates or replaces the user's document.
func (c *Client) PutDocument(ctx context.Context, token string, userID uuid.UUID, fields map[string]any) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, http.MethodPut, documentPath(userID), token, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MergeDocument overwrites the given fields of the user's document.
func (c *Client) MergeDocument(ctx context.Context, token string, userID uuid.UUID, fields map[string]any) (*domain.Document, error) {
	var out domain.Document
	if err := c.do(ctx, http.MethodPatch, documentPath(userID), token, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes the user's document.
func (c *Client) DeleteDocument(ctx context.Context, token string, userID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, documentPath(userID), token, nil, nil)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func documentPath(userID uuid.UUID) string {
	return "/v1/documents/users/" + userID.String()
}

// do sends in as JSON and decodes a 2xx body into out. Error envelopes come
// back as *ProviderError.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return networkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(method+" "+path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(status int, raw []byte) *ProviderError {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error.Code == "" {
		return &ProviderError{
			Code:    "internal",
			Message: fmt.Sprintf("unexpected response: %s", http.StatusText(status)),
			Status:  status,
		}
	}
	return &ProviderError{Code: envelope.Error.Code, Message: envelope.Error.Message, Status: status}
}
