package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teslashibe/go-parley/internal/log"
)

func TestStatic(t *testing.T) {
	id, err := Static(" alice ").UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	_, err = Static("").UserID(context.Background())
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestNamespace(t *testing.T) {
	assert.Equal(t, "alice@example.com", Namespace("alice@example.com"))
	assert.Equal(t, "a_b_c", Namespace("a b/c"))
	assert.Equal(t, "", Namespace("  "))
}

func TestNewGoogle_MissingCredentials(t *testing.T) {
	_, err := NewGoogle(GoogleConfig{})
	assert.Error(t, err)
}

func TestGoogle_NotAuthenticated(t *testing.T) {
	g, err := NewGoogle(GoogleConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenPath:    filepath.Join(t.TempDir(), "token.json"),
		Logger:       log.Discard(),
	})
	require.NoError(t, err)
	assert.False(t, g.IsAuthenticated())

	_, err = g.UserID(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	url := g.AuthURL("state-1")
	assert.True(t, strings.HasPrefix(url, "https://accounts.google.com/"), url)
	assert.Contains(t, url, "state=state-1")
}

func TestGoogle_UserIDFromSavedToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/oauth2/v2/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1234567890","name":"Test User"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "token.json")
	data, err := json.Marshal(&oauth2.Token{
		AccessToken: "access-1",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	g, err := NewGoogle(GoogleConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		TokenPath:    path,
		Endpoint:     srv.URL + "/",
		Logger:       log.Discard(),
	})
	require.NoError(t, err)
	assert.True(t, g.IsAuthenticated())

	id, err := g.UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1234567890", id)

	_, err = g.UserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, g.Disconnect())
	assert.False(t, g.IsAuthenticated())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
