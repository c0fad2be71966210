package server

import (
	"context"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/authbridge/internal/errors"
	"github.com/jrsteele09/authbridge/users"
	"github.com/rs/zerolog/log"
)

const DefaultTestUserName = "Test User"

// InitialiseSystem prepares the stores for serving. In development it makes sure
// the designated test user exists so the mobile bypass can sign in as it.
func (s *Server) InitialiseSystem(ctx context.Context) error {
	baseURL := s.config.GetBaseURL()

	if !s.dev {
		log.Info().Str("base_url", baseURL).Msg("System initialised")
		return nil
	}

	testUser, created, err := s.initialiseTestUser(ctx, s.config.GetTestUserEmail())
	if err != nil {
		return fmt.Errorf("[Server InitialiseSystem] failed to bootstrap test user: %w", err)
	}

	if created {
		log.Info().Msg("📋 System Configuration:")
		log.Info().Msgf("   Base URL:    %s", baseURL)
		log.Info().Msgf("   Sign-in:     %s%ssignin", baseURL, RouteAuth)
		log.Info().Msg("")
		log.Info().Msg("👤 Development Test User:")
		log.Info().Msgf("   Email:       %s", testUser.Email)
		log.Info().Msgf("   User ID:     %s", testUser.ID)
		log.Info().Msg("")
		log.Info().Msg("📱 Mobile bypass:")
		log.Info().Msgf("   %s%ssignin?expo-redirect=<deep-link>&authBypass=true", baseURL, RouteAuth)
		log.Info().Msg("")
	}
	return nil
}

// initialiseTestUser creates the test user if it doesn't exist
func (s *Server) initialiseTestUser(ctx context.Context, email string) (*users.User, bool, error) {
	existing, err := s.repos.Users.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !autherrors.Is(err, autherrors.ErrUserNotFound) {
		return nil, false, err
	}

	user := &users.User{Name: DefaultTestUserName, Email: email}
	user.MarkVerified(time.Now())
	stored, err := s.repos.Users.Upsert(ctx, user)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}
