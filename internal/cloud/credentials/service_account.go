// Package credentials loads storage credentials and exchanges a Google
// service-account key for a short-lived bearer token.
package credentials

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kiwitech/pterobackup/internal/apperr"
	"github.com/kiwitech/pterobackup/internal/constants"
)

// Credentials is the subset of a service-account key file needed to sign an
// assertion. Other fields in the file are ignored.
type Credentials struct {
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// LoadCredentials reads a service-account JSON file.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("failed to read credentials file", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, apperr.Config("failed to parse credentials file", err)
	}

	var missing []error
	if creds.PrivateKey == "" {
		missing = append(missing, errors.New("private_key is required"))
	}
	if creds.ClientEmail == "" {
		missing = append(missing, errors.New("client_email is required"))
	}
	if creds.TokenURI == "" {
		missing = append(missing, errors.New("token_uri is required"))
	}
	if len(missing) > 0 {
		return nil, apperr.Config("invalid credentials file", errors.Join(missing...))
	}

	return &creds, nil
}

// BuildAssertion returns a compact RS256-signed JWT asking for read/write
// storage access, valid from now for AssertionLifetime.
func BuildAssertion(creds *Credentials, now time.Time) (string, error) {
	key, err := jwk.ParseKey([]byte(creds.PrivateKey), jwk.WithPEM(true))
	if err != nil {
		return "", apperr.Crypto("failed to parse private key", err)
	}

	iat := now.Truncate(time.Second)
	tok, err := jwt.NewBuilder().
		Issuer(creds.ClientEmail).
		Audience([]string{creds.TokenURI}).
		IssuedAt(iat).
		Expiration(iat.Add(constants.AssertionLifetime)).
		Claim("scope", constants.GCSReadWriteScope).
		Build()
	if err != nil {
		return "", apperr.Crypto("failed to build assertion", err)
	}
	// Google rejects an array-valued aud.
	tok.Options().Enable(jwt.FlattenAudience)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, key))
	if err != nil {
		return "", apperr.Crypto("failed to sign assertion", err)
	}
	return string(signed), nil
}
