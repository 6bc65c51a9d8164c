package repositories

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-service/internal/models"
)

func TestProfileGetMissing(t *testing.T) {
	database := openStore(t, filepath.Join(t.TempDir(), "relay.db"))
	repo := NewProfileRepo(database)

	_, err := repo.Get(context.Background(), "u404")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestProfilePutAndGet(t *testing.T) {
	database := openStore(t, filepath.Join(t.TempDir(), "relay.db"))
	repo := NewProfileRepo(database)
	ctx := context.Background()

	profile := models.Profile{
		UserID:    "u123",
		Username:  "ana",
		AvatarURL: "https://cdn.example.com/ana.png",
		FetchedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Put(ctx, profile))

	loaded, err := repo.Get(ctx, "u123")
	require.NoError(t, err)
	assert.Equal(t, "ana", loaded.Username)
	assert.Equal(t, profile.AvatarURL, loaded.AvatarURL)
}

func TestProfilePutUpserts(t *testing.T) {
	database := openStore(t, filepath.Join(t.TempDir(), "relay.db"))
	repo := NewProfileRepo(database)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.Put(ctx, models.Profile{UserID: "u123", Username: "ana", FetchedAt: now}))
	require.NoError(t, repo.Put(ctx, models.Profile{UserID: "u123", Username: "ana-renamed", FetchedAt: now}))

	loaded, err := repo.Get(ctx, "u123")
	require.NoError(t, err)
	assert.Equal(t, "ana-renamed", loaded.Username)
}
