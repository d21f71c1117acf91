package insta

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// Login authenticates with username and password. On success the returned
// authorization token is stored in the settings blob alongside the device
// uuids, ready for persistence.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.ensureUUIDs()

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	if uuids := c.UUIDs(); uuids != nil {
		if deviceID, _ := uuids["device_id"].(string); deviceID != "" {
			form.Set("device_id", deviceID)
		}

		if phoneID, _ := uuids["phone_id"].(string); phoneID != "" {
			form.Set("phone_id", phoneID)
		}
	}

	c.logger.Info("password login", slog.String("username", username))

	var resp loginResponse

	err := c.do(ctx, http.MethodPost, "/accounts/login/", formContentType, func() (io.Reader, error) {
		return strings.NewReader(form.Encode()), nil
	}, &resp)
	if err != nil {
		return fmt.Errorf("insta: login: %w", err)
	}

	if resp.Authorization != "" {
		c.settings[settingsKeyAuthorization] = resp.Authorization
	}

	c.settings[settingsKeyUsername] = username

	c.logger.Info("password login succeeded", slog.String("username", username))

	return nil
}

// LoginBySessionToken authenticates with a previously issued session id
// instead of credentials. The token is installed as the session cookie and
// verified with an account info fetch, which also fills in the username.
func (c *Client) LoginBySessionToken(ctx context.Context, token string) error {
	c.ensureUUIDs()
	c.settings[settingsKeySessionID] = token

	c.logger.Info("session token login")

	account, err := c.AccountInfo(ctx)
	if err != nil {
		delete(c.settings, settingsKeySessionID)
		return fmt.Errorf("insta: session token login: %w", err)
	}

	c.settings[settingsKeyUsername] = account.Username

	c.logger.Info("session token login succeeded", slog.String("username", account.Username))

	return nil
}

// ValidateSession probes the timeline feed, the cheapest authenticated
// read. An ErrLoginRequired result means the session is no longer accepted.
func (c *Client) ValidateSession(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/feed/timeline/", "", nil, nil); err != nil {
		return fmt.Errorf("insta: validating session: %w", err)
	}

	return nil
}

// AccountInfo fetches the authenticated user's profile.
func (c *Client) AccountInfo(ctx context.Context) (*Account, error) {
	var resp accountInfoResponse
	if err := c.do(ctx, http.MethodGet, "/accounts/current_user/", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("insta: fetching account info: %w", err)
	}

	if resp.User == nil {
		return nil, fmt.Errorf("insta: account info response missing user")
	}

	return resp.User, nil
}
