package google

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestValidateAccountName(t *testing.T) {
	tests := []struct {
		name    string
		account string
		wantErr bool
	}{
		{"valid default", "default", false},
		{"valid work", "work", false},
		{"valid with hyphen", "work-email", false},
		{"valid with underscore", "personal_email", false},
		{"valid alphanumeric", "account123", false},
		{"empty", "", true},
		{"with spaces", "my account", true},
		{"with special chars", "account@work", true},
		{"with slash", "work/personal", true},
		{"with dot", "work.email", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAccountName(tt.account)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAccountName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTokenFilePath(t *testing.T) {
	cfg := Config{TokenDir: "/tmp/tokens"}
	tests := []struct {
		account string
		want    string
	}{
		{"default", "google-default.token"},
		{"work", "google-work.token"},
	}
	for _, tt := range tests {
		got := cfg.tokenFilePath(tt.account)
		if filepath.Base(got) != tt.want {
			t.Errorf("tokenFilePath(%q) = %v, want base %v", tt.account, got, tt.want)
		}
		if filepath.Dir(got) != "/tmp/tokens" {
			t.Errorf("tokenFilePath(%q) = %v, want dir /tmp/tokens", tt.account, got)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := Config{ClientID: "id", ClientSecret: "secret", TokenDir: t.TempDir()}

	if cfg.HasTokenForAccount("work") {
		t.Fatal("expected no token before saving")
	}
	if _, err := cfg.TokenSourceForAccount(context.Background(), "work"); err == nil {
		t.Fatal("expected error without a token")
	}

	tok := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	if err := cfg.writeToken("work", tok); err != nil {
		t.Fatalf("writeToken() error = %v", err)
	}
	if !cfg.HasTokenForAccount("work") {
		t.Fatal("expected token after saving")
	}

	info, err := os.Stat(cfg.tokenFilePath("work"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("token file mode = %v, want 0600", info.Mode().Perm())
	}

	ts, err := cfg.TokenSourceForAccount(context.Background(), "work")
	if err != nil {
		t.Fatalf("TokenSourceForAccount() error = %v", err)
	}
	got, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if got.AccessToken != "a" {
		t.Errorf("AccessToken = %q, want a", got.AccessToken)
	}

	p := NewFileTokenProvider(cfg)
	if !p.HasTokenForAccount("work") || p.HasTokenForAccount("home") {
		t.Error("FileTokenProvider disagrees with the token dir")
	}
}

func TestReadTokenRejectsGarbage(t *testing.T) {
	cfg := Config{TokenDir: t.TempDir()}
	if err := os.WriteFile(cfg.tokenFilePath("default"), []byte("access refresh"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.readToken("default"); err == nil {
		t.Error("expected error for a non-JSON token file")
	}
}

func TestHasTokenForAccount_InvalidName(t *testing.T) {
	cfg := Config{TokenDir: t.TempDir()}
	if cfg.HasTokenForAccount("invalid account") {
		t.Error("HasTokenForAccount() should return false for invalid account name")
	}
	if cfg.HasTokenForAccount("") {
		t.Error("HasTokenForAccount() should return false for empty account name")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("expected error without credentials")
	}
	if err := (Config{ClientID: "id", ClientSecret: "s"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthURL(t *testing.T) {
	u := Config{ClientID: "my-client", ClientSecret: "s"}.AuthURL("work")
	for _, want := range []string{"client_id=my-client", "access_type=offline", "gmail.modify", "state=work"} {
		if !strings.Contains(u, want) {
			t.Errorf("AuthURL() = %s, missing %s", u, want)
		}
	}
}

func TestGetAuthenticationErrorMessage(t *testing.T) {
	for _, account := range []string{"default", "work", "personal"} {
		msg := GetAuthenticationErrorMessage(account)
		if !strings.Contains(msg, account) {
			t.Errorf("message should mention account %s: %s", account, msg)
		}
		if !strings.Contains(msg, "OAuth") {
			t.Errorf("message should mention OAuth: %s", msg)
		}
	}
}
