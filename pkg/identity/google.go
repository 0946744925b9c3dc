package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleConfig configures Google sign-in.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. "http://localhost:8080/api/auth/callback"
	TokenPath    string // default: ~/.parley/google_token.json

	// Endpoint overrides the userinfo API base URL. Used in tests.
	Endpoint string

	Logger *slog.Logger
}

// Google identifies the user by their Google account id. The OAuth token
// is kept on disk so a restart does not require signing in again.
type Google struct {
	config    *oauth2.Config
	tokenPath string
	endpoint  string
	logger    *slog.Logger

	mu     sync.RWMutex
	token  *oauth2.Token
	userID string
}

// NewGoogle creates a Google identity provider and loads a saved token if
// one exists.
func NewGoogle(cfg GoogleConfig) (*Google, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required")
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/api/auth/callback"
	}
	if cfg.TokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(homeDir, ".parley", "google_token.json")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g := &Google{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oauth2api.UserinfoProfileScope},
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
		logger:    cfg.Logger.With("component", "identity.google"),
	}
	if err := g.loadToken(); err != nil && !os.IsNotExist(err) {
		g.logger.Warn("ignoring unreadable token", "path", g.tokenPath, "error", err)
	}
	return g, nil
}

// IsAuthenticated reports whether a usable token is loaded.
func (g *Google) IsAuthenticated() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != nil && (g.token.Valid() || g.token.RefreshToken != "")
}

// AuthURL returns the consent URL the user visits to sign in.
func (g *Google) AuthURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code and saves the token.
func (g *Google) HandleCallback(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("identity: exchange code: %w", err)
	}

	g.mu.Lock()
	g.token = token
	g.userID = ""
	g.mu.Unlock()

	if err := g.saveToken(); err != nil {
		g.logger.Warn("failed to save token", "error", err)
	}
	return nil
}

// Disconnect forgets the token and removes it from disk.
func (g *Google) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.token = nil
	g.userID = ""
	if err := os.Remove(g.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("identity: remove token: %w", err)
	}
	return nil
}

// UserID returns the Google account id, fetched once per token.
func (g *Google) UserID(ctx context.Context) (string, error) {
	g.mu.RLock()
	token, userID := g.token, g.userID
	g.mu.RUnlock()

	if userID != "" {
		return userID, nil
	}
	if token == nil {
		return "", ErrNotAuthenticated
	}

	opts := []option.ClientOption{option.WithHTTPClient(g.config.Client(ctx, token))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("identity: userinfo service: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("identity: userinfo: %w", err)
	}
	if info.Id == "" {
		return "", ErrNoUser
	}

	g.mu.Lock()
	g.userID = info.Id
	g.mu.Unlock()
	g.logger.Info("signed in", "user", info.Id)
	return info.Id, nil
}

func (g *Google) loadToken() error {
	data, err := os.ReadFile(g.tokenPath)
	if err != nil {
		return err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}

	g.mu.Lock()
	g.token = &token
	g.mu.Unlock()
	return nil
}

func (g *Google) saveToken() error {
	g.mu.RLock()
	token := g.token
	g.mu.RUnlock()

	if token == nil {
		return fmt.Errorf("no token to save")
	}
	if err := os.MkdirAll(filepath.Dir(g.tokenPath), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(g.tokenPath, data, 0600)
}

var _ Provider = (*Google)(nil)
