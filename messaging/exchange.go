// Copyright 2026 The Benedicte Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/benedicte-foundation/benedicte/lib/netutil"
	"github.com/benedicte-foundation/benedicte/lib/secret"
)

// ExchangeRequest describes a token exchange against an external
// identity provider.
type ExchangeRequest struct {
	// URL is the exchange endpoint.
	URL string
	// Token is the provider-issued bearer token. Read, not closed.
	Token *secret.Buffer
	// Headers are added to the request alongside Authorization.
	Headers map[string]string
	// HTTPClient is used for the request. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// ExchangeToken trades an external bearer token for Matrix
// credentials. The provider answers GET URL with {userId, accessToken}.
func ExchangeToken(ctx context.Context, exchange ExchangeRequest) (*ExchangeResponse, error) {
	if exchange.URL == "" {
		return nil, fmt.Errorf("messaging: token exchange URL is required")
	}
	token := exchange.Token.String()
	if token == "" {
		return nil, fmt.Errorf("messaging: token exchange requires a token")
	}
	httpClient := exchange.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, exchange.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to create token exchange request: %w", err)
	}
	for name, value := range exchange.Headers {
		request.Header.Set(name, value)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("messaging: token exchange request failed: %w", err)
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to read token exchange response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("messaging: token exchange failed: %w",
			errorFromResponse(http.MethodGet, request.URL.Path, response.StatusCode, body))
	}

	var exchanged ExchangeResponse
	if err := json.Unmarshal(body, &exchanged); err != nil {
		return nil, malformed("token exchange response", err)
	}
	if exchanged.UserID.IsZero() || exchanged.AccessToken == "" {
		return nil, malformed("token exchange response", fmt.Errorf("missing userId or accessToken"))
	}
	return &exchanged, nil
}
