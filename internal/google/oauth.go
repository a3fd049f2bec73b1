package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// DefaultAccount is the account used when none is given.
const DefaultAccount = "default"

// Config holds the OAuth client credentials and the token location.
type Config struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// TokenDir is where tokens are cached. Defaults to the user cache dir.
	TokenDir string `yaml:"token_dir"`
}

// ConfigFromEnv reads GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and
// GOOGLE_TOKEN_DIR.
func ConfigFromEnv() Config {
	return Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		TokenDir:     os.Getenv("GOOGLE_TOKEN_DIR"),
	}
}

// Validate checks that client credentials are present.
func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("google: client_id and client_secret are required (set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET)")
	}
	return nil
}

func (c Config) tokenDir() string {
	if c.TokenDir != "" {
		return c.TokenDir
	}
	return filepath.Join(userCacheDir(), "inboxtriage")
}

// oauthConfig returns the OAuth2 configuration for the Gmail scopes.
func (c Config) oauthConfig() *oauth2.Config {
	const OOB = "urn:ietf:wg:oauth:2.0:oob"
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  OOB,
		Scopes:       Scopes,
	}
}

var accountNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validateAccountName(account string) error {
	if account == "" {
		return errors.New("account name must not be empty")
	}
	if !accountNamePattern.MatchString(account) {
		return fmt.Errorf("invalid account name %q: use letters, digits, '-' and '_'", account)
	}
	return nil
}

func (c Config) tokenFilePath(account string) string {
	return filepath.Join(c.tokenDir(), "google-"+account+".token")
}

// HasTokenForAccount reports whether a token is cached for account.
func (c Config) HasTokenForAccount(account string) bool {
	if validateAccountName(account) != nil {
		return false
	}
	_, err := os.Stat(c.tokenFilePath(account))
	return err == nil
}

// AuthURL returns the URL the user opens to authorize account.
func (c Config) AuthURL(account string) string {
	return c.oauthConfig().AuthCodeURL(account, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// SaveTokenForAccount exchanges an authorization code and caches the token.
func (c Config) SaveTokenForAccount(ctx context.Context, account, authCode string) error {
	if err := validateAccountName(account); err != nil {
		return err
	}
	t, err := c.oauthConfig().Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return c.writeToken(account, t)
}

func (c Config) writeToken(account string, t *oauth2.Token) error {
	if err := os.MkdirAll(c.tokenDir(), 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.WriteFile(c.tokenFilePath(account), data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

func (c Config) readToken(account string) (*oauth2.Token, error) {
	if err := validateAccountName(account); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(c.tokenFilePath(account))
	if err != nil {
		return nil, fmt.Errorf("no Google OAuth token for account %s", account)
	}
	var t oauth2.Token
	if err := json.Unmarshal(data, &t); err != nil || t.RefreshToken == "" {
		return nil, fmt.Errorf("invalid token file for account %s", account)
	}
	return &t, nil
}

// TokenSourceForAccount returns a refreshing token source for account.
func (c Config) TokenSourceForAccount(ctx context.Context, account string) (oauth2.TokenSource, error) {
	t, err := c.readToken(account)
	if err != nil {
		return nil, err
	}
	return c.oauthConfig().TokenSource(ctx, t), nil
}

// HTTPClient returns an HTTP client authorized with ts. HTTP/2 is disabled
// to avoid protocol errors seen with the Gmail API.
func HTTPClient(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	client := oauth2.NewClient(ctx, ts)
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{ForceAttemptHTTP2: false}
	}
	return client
}

// GetAuthenticationErrorMessage tells the user how to authorize account.
func GetAuthenticationErrorMessage(account string) string {
	return fmt.Sprintf("no valid Google OAuth token for account %q: run `inboxtriage auth --account %s` to complete the OAuth flow", account, account)
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	if runtime.GOOS == "windows" {
		return os.TempDir()
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}
