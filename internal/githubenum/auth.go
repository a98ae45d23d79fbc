package githubenum

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v66/github"
)

// appJWTTTL is kept short per GitHub's App-auth guidance: the JWT is only
// ever used to mint one installation token, never sent on a data call.
const appJWTTTL = 9 * time.Minute

// generateAppJWT signs a GitHub App authentication JWT per GitHub's
// iss/iat/exp claim contract, the same shape the teacher used to
// authenticate its own GitHub App installation.
func generateAppJWT(appID string, privateKeyPEM []byte, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return "", fmt.Errorf("parsing github app private key: %w", err)
	}

	claims := jwt.RegisteredClaims{
		Issuer:    appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(appJWTTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("signing github app jwt: %w", err)
	}
	return signed, nil
}

// installationToken exchanges an App JWT for a short-lived installation
// access token scoped to installationID.
func installationToken(ctx context.Context, appID string, privateKeyPEM []byte, installationID int64, now time.Time) (string, error) {
	appJWT, err := generateAppJWT(appID, privateKeyPEM, now)
	if err != nil {
		return "", err
	}

	client := github.NewClient(nil).WithAuthToken(appJWT)
	token, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("exchanging github app jwt for installation token: %w", err)
	}
	return token.GetToken(), nil
}
