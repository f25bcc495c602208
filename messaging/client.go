// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/benedicte-foundation/benedicte/lib/netutil"
	"github.com/benedicte-foundation/benedicte/lib/ref"
	"github.com/benedicte-foundation/benedicte/lib/secret"
)

// DefaultDeviceDisplayName names devices created by password login.
const DefaultDeviceDisplayName = "benedicte"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL of the homeserver
	// (e.g., "https://matrix.example.org").
	HomeserverURL string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is an unauthenticated Matrix client. It holds the homeserver
// URL and HTTP transport shared by the sessions derived from it.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new unauthenticated Matrix client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("messaging: HomeserverURL %q must be absolute", config.HomeserverURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Login authenticates with username and password. The password Buffer
// is read but not closed; the caller retains ownership.
func (c *Client) Login(ctx context.Context, username string, password *secret.Buffer) (*DirectSession, error) {
	if username == "" {
		return nil, fmt.Errorf("messaging: username is required for login")
	}
	if password == nil || password.Len() == 0 {
		return nil, fmt.Errorf("messaging: password is required for login")
	}

	loginRequest := LoginRequest{
		Type:                     "m.login.password",
		User:                     username,
		Password:                 password.String(),
		InitialDeviceDisplayName: DefaultDeviceDisplayName,
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/login", nil, loginRequest)
	if err != nil {
		return nil, fmt.Errorf("messaging: login failed: %w", err)
	}

	var authResponse AuthResponse
	if err := json.Unmarshal(body, &authResponse); err != nil {
		return nil, malformed("login response", err)
	}
	if authResponse.UserID.IsZero() || authResponse.AccessToken == "" {
		return nil, malformed("login response", fmt.Errorf("missing user_id or access_token"))
	}

	c.logger.Info("logged in to matrix",
		"user_id", authResponse.UserID,
		"device_id", authResponse.DeviceID,
	)

	return c.sessionFromAuth(&authResponse)
}

// SessionFromToken creates a DirectSession from an existing access
// token. The token is copied into mmap-backed memory. It is not
// validated; the first API call fails if it is wrong. homeServer may
// be empty, in which case the user ID's server part is reported.
//
// The caller must call Close on the returned DirectSession.
func (c *Client) SessionFromToken(userID ref.UserID, accessToken, homeServer, deviceID string) (*DirectSession, error) {
	return c.sessionFromAuth(&AuthResponse{
		UserID:      userID,
		AccessToken: accessToken,
		HomeServer:  homeServer,
		DeviceID:    deviceID,
	})
}

func (c *Client) sessionFromAuth(auth *AuthResponse) (*DirectSession, error) {
	tokenBuffer, err := secret.NewFromString(auth.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("messaging: protecting access token: %w", err)
	}
	homeServer := auth.HomeServer
	if homeServer == "" {
		homeServer = auth.UserID.Server()
	}
	return &DirectSession{
		client:      c,
		accessToken: tokenBuffer,
		userID:      auth.UserID,
		homeServer:  homeServer,
		deviceID:    auth.DeviceID,
	}, nil
}

// doRequest performs a JSON request against the homeserver and returns
// the response body. On 4xx/5xx it returns a *MatrixError alongside
// the body. accessToken may be nil for unauthenticated endpoints.
func (c *Client) doRequest(ctx context.Context, method, path string, accessToken *secret.Buffer, requestBody any, query ...url.Values) ([]byte, error) {
	var bodyReader io.Reader
	contentType := ""
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("messaging: failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	response, err := c.send(ctx, method, path, accessToken, contentType, bodyReader, -1, query...)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}
	return responseBody, errorFromResponse(method, path, response.StatusCode, responseBody)
}

// send builds and issues a request. The caller owns the response body.
// contentLength is -1 when unknown.
func (c *Client) send(ctx context.Context, method, path string, accessToken *secret.Buffer, contentType string, body io.Reader, contentLength int64, query ...url.Values) (*http.Response, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 && len(query[0]) > 0 {
		requestURL += "?" + query[0].Encode()
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create request: %w", err)
	}
	if contentLength >= 0 {
		request.ContentLength = contentLength
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if accessToken != nil {
		token := accessToken.String()
		if token == "" {
			return nil, fmt.Errorf("messaging: %s %s: access token has been released", method, path)
		}
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: request to %s %s failed: %w", method, path, err)
	}
	return response, nil
}

// errorFromResponse converts a non-2xx response into an error. All
// Matrix error responses share the same JSON shape; anything else is
// reported with the raw body.
func errorFromResponse(method, path string, statusCode int, body []byte) error {
	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return &MatrixError{
			Code:       ErrCodeUnknown,
			Message:    fmt.Sprintf("unexpected response from %s %s: %s", method, path, strings.TrimSpace(string(body))),
			StatusCode: statusCode,
		}
	}
	matrixErr.StatusCode = statusCode
	return &matrixErr
}
