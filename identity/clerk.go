// Package identity talks to the hosted identity provider that owns login accounts.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrUserNotFound = errors.New("identity user not found")
	ErrUserExists   = errors.New("identity user already exists")
	// ErrTimeout is returned when the provider did not answer in time. Callers may retry.
	ErrTimeout = errors.New("identity provider timeout")
)

// User is the subset of the provider's user object the backend reads.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Invitation struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

// Provider is the identity collaborator. Implementations must be safe for concurrent use.
type Provider interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// CreateUser creates an account and asks the provider to email an invitation.
	CreateUser(ctx context.Context, email, firstName, lastName string) (*User, error)
	CreateInvitation(ctx context.Context, email string) (*Invitation, error)
	// RevokePendingInvitation revokes at most one pending invitation for email.
	// It reports whether an invitation was revoked.
	RevokePendingInvitation(ctx context.Context, email string) (bool, error)
	DeleteUser(ctx context.Context, userID string) error
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider error (status %d): %s", e.StatusCode, e.Message)
}

type ClerkConfig struct {
	BaseURL    string
	SecretKey  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ClerkClient implements Provider over the Clerk backend REST API.
type ClerkClient struct {
	baseURL string
	secret  string
	timeout time.Duration
	http    *http.Client
}

func NewClerkClient(cfg ClerkConfig) (*ClerkClient, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("clerk secret key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.clerk.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ClerkClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  cfg.SecretKey,
		timeout: cfg.Timeout,
		http:    httpClient,
	}, nil
}

func (c *ClerkClient) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var users []User
	path := "/users?email_address=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}

func (c *ClerkClient) CreateUser(ctx context.Context, email, firstName, lastName string) (*User, error) {
	body := map[string]any{
		"email_address":             []string{email},
		"first_name":                firstName,
		"last_name":                 lastName,
		"skip_password_checks":      true,
		"skip_password_requirement": true,
		"notify":                    true,
	}
	var user User
	if err := c.do(ctx, http.MethodPost, "/users", body, &user); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == "form_identifier_exists" {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
		}
		return nil, err
	}
	return &user, nil
}

func (c *ClerkClient) CreateInvitation(ctx context.Context, email string) (*Invitation, error) {
	body := map[string]any{
		"email_address":   email,
		"ignore_existing": true,
		"notify":          true,
	}
	var inv Invitation
	if err := c.do(ctx, http.MethodPost, "/invitations", body, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *ClerkClient) RevokePendingInvitation(ctx context.Context, email string) (bool, error) {
	var page struct {
		Data []Invitation `json:"data"`
	}
	path := "/invitations?status=pending&query=" + url.QueryEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return false, err
	}
	for _, inv := range page.Data {
		if !strings.EqualFold(inv.EmailAddress, email) {
			continue
		}
		if err := c.do(ctx, http.MethodPost, "/invitations/"+url.PathEscape(inv.ID)+"/revoke", nil, nil); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *ClerkClient) DeleteUser(ctx context.Context, userID string) error {
	err := c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrUserNotFound
	}
	return err
}

type clerkErrorBody struct {
	Errors []struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		LongMessage string `json:"long_message"`
	} `json:"errors"`
}

func (c *ClerkClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode identity request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("failed to read identity response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		var eb clerkErrorBody
		if json.Unmarshal(raw, &eb) == nil && len(eb.Errors) > 0 {
			apiErr.Code = eb.Errors[0].Code
			apiErr.Message = eb.Errors[0].Message
			if eb.Errors[0].LongMessage != "" {
				apiErr.Message = eb.Errors[0].LongMessage
			}
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}
