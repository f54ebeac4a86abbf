package api

import (
	"context"
	"fmt"

	"github.com/clustrhq/clustr-go/models"
)

// AuthResponse is the result of any credential exchange.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type SignupInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Username string `json:"username" validate:"required,min=3"`
}

func (in *SignupInput) Validate() error {
	return validate.Struct(in)
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (in *LoginInput) Validate() error {
	return validate.Struct(in)
}

func (c *Client) Signup(ctx context.Context, in SignupInput) (*AuthResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("validate signup input: %w", err)
	}
	var res AuthResponse
	if err := c.post(ctx, "/auth/signup", in, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Login(ctx context.Context, in LoginInput) (*AuthResponse, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("validate login input: %w", err)
	}
	var res AuthResponse
	if err := c.post(ctx, "/auth/login", in, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

// Me returns the account behind the cached token.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var res struct {
		User *models.User `json:"user"`
	}
	if err := c.get(ctx, "/auth/me", nil, &res, true); err != nil {
		return nil, err
	}
	return res.User, nil
}

type googleAuthRequest struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
}

// GoogleAuth exchanges a Google OAuth token for a session. tokenType is
// "id_token" or "access_token".
func (c *Client) GoogleAuth(ctx context.Context, token, tokenType string) (*AuthResponse, error) {
	var res AuthResponse
	req := googleAuthRequest{Token: token, TokenType: tokenType}
	if err := c.post(ctx, "/auth/google", req, &res, false); err != nil {
		return nil, err
	}
	return &res, nil
}

// GoogleConfig returns the Google OAuth client id the backend is configured
// with.
func (c *Client) GoogleConfig(ctx context.Context) (string, error) {
	var res struct {
		GoogleClientID string `json:"google_client_id"`
	}
	if err := c.get(ctx, "/auth/google/config", nil, &res, false); err != nil {
		return "", err
	}
	return res.GoogleClientID, nil
}

type interestsRequest struct {
	Interests []string `json:"interests"`
}

// SaveInterests records the user's selected interest categories.
func (c *Client) SaveInterests(ctx context.Context, interests []string) error {
	return c.post(ctx, "/auth/interests", interestsRequest{Interests: interests}, nil, true)
}
