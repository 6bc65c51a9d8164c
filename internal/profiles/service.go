package profiles

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"relay-service/internal/backend"
	"relay-service/internal/models"
	"relay-service/internal/repositories"
)

// Service resolves recipient profiles through a TTL memory cache backed by
// the local store, falling back to the backend row store on a miss.
// Write-through on fetch so known users survive a restart.
type Service struct {
	repo   repositories.ProfileRepository
	client backend.Client
	cache  *gocache.Cache
	maxAge time.Duration
}

// NewService constructs the profile cache. maxAge bounds how stale a locally
// stored profile may be before it is refetched.
func NewService(repo repositories.ProfileRepository, client backend.Client, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Service{
		repo:   repo,
		client: client,
		cache:  gocache.New(15*time.Minute, 30*time.Minute),
		maxAge: maxAge,
	}
}

// Lookup resolves a profile: memory cache, then local store, then backend.
func (s *Service) Lookup(ctx context.Context, userID string) (models.Profile, error) {
	if cached, ok := s.cache.Get(userID); ok {
		return cached.(models.Profile), nil
	}

	profile, err := s.repo.Get(ctx, userID)
	if err == nil && time.Since(profile.FetchedAt) < s.maxAge {
		s.cache.SetDefault(userID, profile)
		return profile, nil
	}
	if err != nil && !errors.Is(err, repositories.ErrProfileNotFound) {
		log.Warn().Err(err).Str("user_id", userID).Msg("profile store read failed")
	}

	fetched, fetchErr := s.client.FetchProfile(ctx, userID)
	if fetchErr != nil {
		// A stale local copy beats no profile at all.
		if err == nil {
			return profile, nil
		}
		return models.Profile{}, fetchErr
	}

	s.cache.SetDefault(userID, fetched)
	if putErr := s.repo.Put(ctx, fetched); putErr != nil {
		log.Warn().Err(putErr).Str("user_id", userID).Msg("profile store write failed")
	}
	return fetched, nil
}

// Invalidate drops a profile from the memory cache.
func (s *Service) Invalidate(userID string) {
	s.cache.Delete(userID)
}
