package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	perrors "github.com/p-blackswan/policy-agent/internal/errors"
	"github.com/p-blackswan/policy-agent/internal/retry"
	"github.com/p-blackswan/policy-agent/pkg/tokenstore"
)

const (
	tokenTTL = 55 * time.Minute // Tokens last 1 hour, refresh at 55 min
	// tokenSkew refreshes a cached token this long before it expires.
	tokenSkew = 2 * time.Minute
)

// installationTokenResponse mirrors the GitHub API response.
type installationTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func installationTokenKey(installationID int64) string {
	return fmt.Sprintf("github_installation_token:%d", installationID)
}

// installationToken returns a cached or freshly minted installation token.
// Minting is retried on transient failures; a rejected JWT is reported as an
// authentication error.
func (a *App) installationToken(ctx context.Context, installationID int64) (string, error) {
	return tokenstore.GetOrFetch(ctx, a.tokenStore, installationTokenKey(installationID), tokenSkew,
		func(ctx context.Context) (string, time.Duration, error) {
			resp, err := retry.DoValue(ctx, a.retry, func(ctx context.Context) (*installationTokenResponse, error) {
				return a.mintInstallationToken(ctx, installationID)
			})
			if err != nil {
				return "", 0, perrors.Authentication("github.installationToken", err)
			}
			a.metrics.RecordTokenMinted()

			ttl := tokenTTL
			if !resp.ExpiresAt.IsZero() {
				if until := time.Until(resp.ExpiresAt) - tokenSkew; until > 0 && until < ttl {
					ttl = until
				}
			}
			a.logger.Info().
				Int64("installation_id", installationID).
				Str("expires", resp.ExpiresAt.Format(time.RFC3339)).
				Msg("generated new installation token")
			return resp.Token, ttl, nil
		})
}

func (a *App) mintInstallationToken(ctx context.Context, installationID int64) (*installationTokenResponse, error) {
	jwtToken, err := a.generateJWT()
	if err != nil {
		return nil, fmt.Errorf("generating JWT: %w", err)
	}

	endpoint := a.apiURL.JoinPath("app", "installations", fmt.Sprintf("%d", installationID), "access_tokens")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwtToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting installation token: %w: %w", perrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, perrors.NewAPIError("github", resp.StatusCode, fmt.Sprintf("installation token request failed: %s", body))
	}

	var tokenResp installationTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tokenResp.Token == "" {
		return nil, fmt.Errorf("installation token response carried no token")
	}
	return &tokenResp, nil
}
