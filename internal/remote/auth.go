package remote

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v60/github"
)

// tokenRefreshMargin is how long before expiry a cached installation token
// is replaced.
const tokenRefreshMargin = 5 * time.Minute

// Auth yields a bearer token for the contents API.
type Auth interface {
	Token(ctx context.Context, base *gh.Client) (string, error)
}

// TokenAuth is a personal access or fine-grained token.
type TokenAuth string

func (t TokenAuth) Token(context.Context, *gh.Client) (string, error) {
	if t == "" {
		return "", fmt.Errorf("remote: empty token")
	}
	return string(t), nil
}

// AppAuth authenticates as a GitHub App installation. Installation tokens are
// cached until shortly before they expire.
type AppAuth struct {
	appID          int64
	installationID int64
	privateKey     *rsa.PrivateKey
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAppAuth reads the App private key from privateKeyPath.
func NewAppAuth(appID, installationID int64, privateKeyPath string) (*AppAuth, error) {
	keyData, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	return NewAppAuthFromKeyBytes(appID, installationID, keyData)
}

// NewAppAuthFromKeyBytes creates an AppAuth from PEM key bytes.
func NewAppAuthFromKeyBytes(appID, installationID int64, keyData []byte) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	return &AppAuth{
		appID:          appID,
		installationID: installationID,
		privateKey:     key,
		now:            time.Now,
	}, nil
}

// appJWT creates the short-lived JWT GitHub expects from an App.
func (a *AppAuth) appJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(10 * time.Minute)),
		Issuer:    fmt.Sprintf("%d", a.appID),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.privateKey)
	if err != nil {
		return "", fmt.Errorf("signing JWT: %w", err)
	}
	return signed, nil
}

func (a *AppAuth) Token(ctx context.Context, base *gh.Client) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Add(tokenRefreshMargin).Before(a.expiresAt) {
		return a.token, nil
	}

	signed, err := a.appJWT()
	if err != nil {
		return "", err
	}
	appClient := base.WithAuthToken(signed)
	tok, _, err := appClient.Apps.CreateInstallationToken(ctx, a.installationID, nil)
	if err != nil {
		return "", classify("create installation token", err)
	}
	a.token = tok.GetToken()
	a.expiresAt = tok.GetExpiresAt().Time
	if a.expiresAt.IsZero() {
		a.expiresAt = a.now().Add(time.Hour)
	}
	return a.token, nil
}

func newBaseClient(baseURL string) (*gh.Client, error) {
	c := gh.NewClient(&http.Client{Timeout: 30 * time.Second})
	if baseURL == "" {
		return c, nil
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	c.BaseURL = u
	return c, nil
}
