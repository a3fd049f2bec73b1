package google

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenProvider supplies OAuth tokens for Google APIs per account.
type TokenProvider interface {
	TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error)
	HasTokenForAccount(account string) bool
}

// FileTokenProvider serves tokens cached on disk by SaveTokenForAccount.
type FileTokenProvider struct {
	cfg Config
}

// NewFileTokenProvider creates a file-based token provider.
func NewFileTokenProvider(cfg Config) *FileTokenProvider {
	return &FileTokenProvider{cfg: cfg}
}

// TokenSource returns a refreshing token source for account.
func (p *FileTokenProvider) TokenSource(ctx context.Context, account string) (oauth2.TokenSource, error) {
	return p.cfg.TokenSourceForAccount(ctx, account)
}

// HasTokenForAccount reports whether a token file exists for account.
func (p *FileTokenProvider) HasTokenForAccount(account string) bool {
	return p.cfg.HasTokenForAccount(account)
}
