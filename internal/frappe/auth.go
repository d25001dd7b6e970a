package frappe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
)

// Frappe's built-in OAuth2 provider endpoints, relative to the site URL.
const (
	authorizePath = "/api/method/frappe.integrations.oauth2.authorize"
	tokenPath     = "/api/method/frappe.integrations.oauth2.get_token"
)

var requiredScopes = []string{"all", "openid"}

// OAuthSettings describes the OAuth2 client registered on the site. Empty
// URLs default to the site's built-in provider.
type OAuthSettings struct {
	SiteURL      string
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	RedirectURL  string
}

// OAuth2Config returns the oauth2.Config for the site.
func OAuth2Config(s OAuthSettings) *oauth2.Config {
	site := strings.TrimRight(s.SiteURL, "/")
	authURL := s.AuthorizeURL
	if authURL == "" {
		authURL = site + authorizePath
	}
	tokenURL := s.TokenURL
	if tokenURL == "" {
		tokenURL = site + tokenPath
	}
	return &oauth2.Config{
		ClientID:    s.ClientID,
		Scopes:      requiredScopes,
		RedirectURL: s.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// TokenStore persists the OAuth2 token as JSON.
type TokenStore struct {
	Path string
}

// DefaultTokenStore returns the store under baseDir/auth.
func DefaultTokenStore(baseDir string) *TokenStore {
	return &TokenStore{Path: filepath.Join(baseDir, "auth", "oauth_token.json")}
}

// Load returns the stored token, or nil if none has been saved.
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("corrupt token file (delete %s to re-authenticate): %w", s.Path, err)
	}
	return &tok, nil
}

// Save persists tok.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("creating auth directory: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}
	tmpPath := s.Path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("saving token file: %w", err)
	}
	return nil
}

// Delete removes the stored token. A missing token is not an error.
func (s *TokenStore) Delete() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

// savingTokenSource wraps a TokenSource and persists refreshed tokens.
type savingTokenSource struct {
	ts    oauth2.TokenSource
	store *TokenStore
	last  string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		// Best-effort save; the in-memory token stays usable.
		_ = s.store.Save(tok)
		s.last = tok.AccessToken
	}
	return tok, nil
}

// NewOAuthHTTPClient returns a client that authenticates with the stored
// token and saves refreshed tokens back to the store.
func NewOAuthHTTPClient(ctx context.Context, cfg *oauth2.Config, store *TokenStore) (*http.Client, error) {
	tok, err := store.Load()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNotLoggedIn
	}
	ts := &savingTokenSource{ts: cfg.TokenSource(ctx, tok), store: store, last: tok.AccessToken}
	return oauth2.NewClient(ctx, ts), nil
}

// tokenTransport sends Frappe's API key authentication header.
type tokenTransport struct {
	key, secret string
	base        http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "token "+t.key+":"+t.secret)
	return t.base.RoundTrip(r)
}

// NewTokenHTTPClient returns a client using API key/secret authentication.
func NewTokenHTTPClient(key, secret string) *http.Client {
	return &http.Client{Transport: &tokenTransport{key: key, secret: secret, base: http.DefaultTransport}}
}

// Login drives the authorization code flow with PKCE.
type Login struct {
	Config   *oauth2.Config
	Store    *TokenStore
	verifier string
}

// AuthCodeURL starts a new login and returns the URL the user must visit.
func (l *Login) AuthCodeURL(state string) string {
	l.verifier = oauth2.GenerateVerifier()
	return l.Config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(l.verifier))
}

// Exchange trades the authorization code for a token and stores it.
func (l *Login) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if l.verifier == "" {
		return nil, fmt.Errorf("login not started")
	}
	tok, err := l.Config.Exchange(ctx, strings.TrimSpace(code), oauth2.VerifierOption(l.verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	if err := l.Store.Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}
