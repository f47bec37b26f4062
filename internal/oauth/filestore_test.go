package oauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFileStoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	rec := Record{Token: oauth2.Token{AccessToken: "a", RefreshToken: "r"}, UserID: "u1"}
	require.NoError(t, store.SaveToken(context.Background(), "twitch", rec))

	got, err := store.GetToken(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, rec.AccessToken, got.AccessToken)
	assert.Equal(t, rec.UserID, got.UserID)
}

func TestFileStoreRecoversFromCorruptPrimary(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	rec := Record{Token: oauth2.Token{AccessToken: "a"}}
	require.NoError(t, store.SaveToken(context.Background(), "twitch", rec))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "twitch.token.json"), []byte("not json"), 0o600))

	got, err := store.GetToken(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "a", got.AccessToken)
}

func TestFileStoreMissingTokenIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.GetToken(context.Background(), "twitch")
	assert.ErrorIs(t, err, ErrNotFound)
}
