/*
 * Keepsake
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake/lib/backend/memory"
	"github.com/gravitational/keepsake/lib/defaults"
	"github.com/gravitational/keepsake/lib/services/local"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *clockwork.FakeClock, *local.IdentityService) {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { b.Close() })
	clock := clockwork.NewFakeClockAt(t0)
	identity := local.NewIdentityService(b)
	srv, err := NewServer(ServerConfig{
		Identity:   identity,
		SigningKey: []byte("test-signing-key"),
		// Minimum cost keeps the hashing in these tests fast.
		BCryptCost: 4,
		Clock:      clock,
	})
	require.NoError(t, err)
	return srv, clock, identity
}

func TestSignUpAndSignIn(t *testing.T) {
	ctx := context.Background()
	srv, clock, identity := newTestServer(t)

	user, err := srv.SignUp(ctx, SignUpRequest{
		Email:    "Alice@Example.com",
		Username: "Alice",
		Password: "correct horse",
		FullName: "Alice A.",
	})
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", user.Email)
	require.Equal(t, "alice", user.Username)
	require.True(t, user.IsActive)

	// Either unique field works as the login, in any case.
	clock.Advance(time.Minute)
	pair, err := srv.SignIn(ctx, SignInRequest{Login: "ALICE@example.com", Password: "correct horse"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, int64(defaults.AccessTokenTTL/time.Second), pair.ExpiresIn)

	_, err = srv.SignIn(ctx, SignInRequest{Login: "alice", Password: "correct horse"})
	require.NoError(t, err)

	// Login time was recorded.
	stored, err := identity.GetUser(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, t0.Add(time.Minute), stored.LastLoginAt.UTC())

	principal, err := srv.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, principal.ID)
	require.True(t, principal.IsActive)
}

func TestSignUpValidation(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := newTestServer(t)

	_, err := srv.SignUp(ctx, SignUpRequest{
		Email: "short@example.com", Username: "short", Password: "short",
	})
	require.True(t, trace.IsBadParameter(err))

	_, err = srv.SignUp(ctx, SignUpRequest{
		Email: "alice@example.com", Username: "alice", Password: "correct horse",
	})
	require.NoError(t, err)

	// Duplicate email, different case.
	_, err = srv.SignUp(ctx, SignUpRequest{
		Email: "ALICE@example.com", Username: "alice2", Password: "correct horse",
	})
	require.True(t, trace.IsAlreadyExists(err))

	// Duplicate username.
	_, err = srv.SignUp(ctx, SignUpRequest{
		Email: "alice2@example.com", Username: "Alice", Password: "correct horse",
	})
	require.True(t, trace.IsAlreadyExists(err))
}

func TestSignInRejections(t *testing.T) {
	ctx := context.Background()
	srv, _, identity := newTestServer(t)

	user, err := srv.SignUp(ctx, SignUpRequest{
		Email: "alice@example.com", Username: "alice", Password: "correct horse",
	})
	require.NoError(t, err)

	// Wrong password and unknown login produce the same error.
	_, err = srv.SignIn(ctx, SignInRequest{Login: "alice", Password: "wrong"})
	require.True(t, trace.IsAccessDenied(err))
	wrongPassword := err.Error()
	_, err = srv.SignIn(ctx, SignInRequest{Login: "nobody", Password: "wrong"})
	require.True(t, trace.IsAccessDenied(err))
	require.Equal(t, wrongPassword, err.Error())

	// Deactivated accounts cannot sign in even with good credentials.
	stored, err := identity.GetUser(ctx, user.ID)
	require.NoError(t, err)
	stored.IsActive = false
	require.NoError(t, identity.UpdateUser(ctx, stored))
	_, err = srv.SignIn(ctx, SignInRequest{Login: "alice", Password: "correct horse"})
	require.True(t, trace.IsAccessDenied(err))
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	srv, clock, _ := newTestServer(t)

	_, err := srv.SignUp(ctx, SignUpRequest{
		Email: "alice@example.com", Username: "alice", Password: "correct horse",
	})
	require.NoError(t, err)
	pair, err := srv.SignIn(ctx, SignInRequest{Login: "alice", Password: "correct horse"})
	require.NoError(t, err)

	// A refresh token is not accepted where an access token is expected,
	// and vice versa.
	_, err = srv.Authenticate(ctx, pair.RefreshToken)
	require.True(t, trace.IsAccessDenied(err))
	_, err = srv.Refresh(ctx, pair.AccessToken)
	require.True(t, trace.IsAccessDenied(err))

	// The access token expires, the refresh token still mints a new
	// pair.
	clock.Advance(defaults.AccessTokenTTL + time.Minute)
	_, err = srv.Authenticate(ctx, pair.AccessToken)
	require.True(t, trace.IsAccessDenied(err))

	fresh, err := srv.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = srv.Authenticate(ctx, fresh.AccessToken)
	require.NoError(t, err)

	// Eventually the refresh token dies too.
	clock.Advance(defaults.RefreshTokenTTL)
	_, err = srv.Refresh(ctx, fresh.RefreshToken)
	require.True(t, trace.IsAccessDenied(err))

	// Garbage is garbage.
	_, err = srv.Authenticate(ctx, "not-a-token")
	require.True(t, trace.IsAccessDenied(err))
}

func TestAuthenticateSeesDeactivation(t *testing.T) {
	ctx := context.Background()
	srv, _, identity := newTestServer(t)

	user, err := srv.SignUp(ctx, SignUpRequest{
		Email: "alice@example.com", Username: "alice", Password: "correct horse",
	})
	require.NoError(t, err)
	pair, err := srv.SignIn(ctx, SignInRequest{Login: "alice", Password: "correct horse"})
	require.NoError(t, err)

	stored, err := identity.GetUser(ctx, user.ID)
	require.NoError(t, err)
	stored.IsActive = false
	require.NoError(t, identity.UpdateUser(ctx, stored))

	// The token still parses but the principal is flagged inactive.
	principal, err := srv.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.False(t, principal.IsActive)
}
