package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/juju/clock"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/constants"
	internalhttp "github.com/kiwitech/pterobackup/internal/http"
	"github.com/kiwitech/pterobackup/internal/logging"
)

// tokenResponse is the token endpoint's JSON reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Authenticator exchanges a signed assertion for a bearer token. Each call
// loads the key file afresh; tokens are neither cached nor refreshed.
type Authenticator struct {
	HTTPClient *retryablehttp.Client
	Clock      clock.Clock
	Logger     *logging.Logger
}

// NewAuthenticator creates an authenticator using the wall clock.
func NewAuthenticator(client *retryablehttp.Client, logger *logging.Logger) *Authenticator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Authenticator{
		HTTPClient: client,
		Clock:      clock.WallClock,
		Logger:     logger,
	}
}

// AccessToken loads the service-account file at credentialsPath, signs an
// assertion and posts it to the file's token_uri. The access_token value
// is returned unmodified.
func (a *Authenticator) AccessToken(ctx context.Context, credentialsPath string) (string, error) {
	logger := a.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	// Loading happens before any network I/O.
	creds, err := LoadCredentials(credentialsPath)
	if err != nil {
		return "", err
	}

	now := clock.WallClock.Now()
	if a.Clock != nil {
		now = a.Clock.Now()
	}
	assertion, err := BuildAssertion(creds, now)
	if err != nil {
		return "", err
	}
	logger.Debug().Str("client_email", creds.ClientEmail).Str("token_uri", creds.TokenURI).Msg("Signed token assertion")

	form := url.Values{}
	form.Set("grant_type", constants.JWTBearerGrantType)
	form.Set("assertion", assertion)

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", creds.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Network("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := a.HTTPClient
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 0
		client.ErrorHandler = retryablehttp.PassthroughErrorHandler
		client.Logger = internalhttp.NewRetryLogger(logger)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.Network("token request failed", err)
	}
	defer resp.Body.Close()

	if !internalhttp.IsSuccess(resp.StatusCode) {
		return "", apperr.Network("token request failed",
			fmt.Errorf("status %d: %s", resp.StatusCode, internalhttp.BodyExcerpt(resp)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", apperr.Network("failed to decode token response", err)
	}
	if tr.AccessToken == "" {
		return "", apperr.Network("failed to decode token response", fmt.Errorf("access_token missing"))
	}

	logger.Debug().Str("token_type", tr.TokenType).Int("expires_in", tr.ExpiresIn).Msg("Obtained access token")
	return tr.AccessToken, nil
}
