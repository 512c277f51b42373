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

// Package auth implements account registration and the credential to
// token exchange. It issues short-lived access tokens paired with
// longer-lived refresh tokens, both HMAC-signed JWTs.
package auth

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/defaults"
	"github.com/gravitational/keepsake/lib/services"
	"github.com/gravitational/keepsake/lib/utils"
)

// tokenIssuer is the iss claim on every issued token.
const tokenIssuer = "keepsake"

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// ServerConfig holds the dependencies of the auth server.
type ServerConfig struct {
	// Identity is the user storage.
	Identity services.Identity
	// SigningKey is the HMAC key for issued tokens. When empty an
	// ephemeral key is generated and tokens do not survive a restart.
	SigningKey []byte
	// AccessTokenTTL overrides the access token lifetime.
	AccessTokenTTL time.Duration
	// RefreshTokenTTL overrides the refresh token lifetime.
	RefreshTokenTTL time.Duration
	// BCryptCost overrides the password hashing work factor.
	BCryptCost int
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger is the structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *ServerConfig) CheckAndSetDefaults() error {
	if cfg.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(keepsake.ComponentKey, keepsake.ComponentAuth)
	}
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if cfg.RefreshTokenTTL == 0 {
		cfg.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if cfg.BCryptCost == 0 {
		cfg.BCryptCost = defaults.BCryptCost
	}
	if len(cfg.SigningKey) == 0 {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return trace.Wrap(err)
		}
		cfg.SigningKey = key
		cfg.Logger.Warn("No token signing key configured, generated an ephemeral one. Issued tokens will not survive a restart.")
	}
	return nil
}

// Server registers accounts and exchanges credentials for tokens.
type Server struct {
	cfg ServerConfig
	log *slog.Logger
}

// NewServer returns an auth server backed by the given identity storage.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Server{cfg: cfg, log: cfg.Logger}, nil
}

// SignUpRequest registers a new account.
type SignUpRequest struct {
	// Email is the login email, stored lowercased.
	Email string `json:"email"`
	// Username is the public handle, stored lowercased.
	Username string `json:"username"`
	// Password is the plaintext password, hashed before storage.
	Password string `json:"password"`
	// FullName is the optional display name.
	FullName string `json:"full_name,omitempty"`
}

// SignUp registers a new active account. Email and username must be
// unique.
func (s *Server) SignUp(ctx context.Context, req SignUpRequest) (*types.User, error) {
	if len(req.Password) < defaults.MinPasswordLength {
		return nil, trace.BadParameter("password must be at least %v characters", defaults.MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BCryptCost)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := s.cfg.Identity.CreateUser(ctx, &types.User{
		Email:          req.Email,
		Username:       req.Username,
		HashedPassword: string(hash),
		FullName:       utils.SanitizeLine(req.FullName, types.MaxFullNameLength),
		IsActive:       true,
		CreatedAt:      s.cfg.Clock.Now().UTC(),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "Registered new user.", "user", user.ID, "username", user.Username)
	return user, nil
}

// SignInRequest exchanges credentials for a token pair.
type SignInRequest struct {
	// Login is the email or username of the account.
	Login string `json:"login"`
	// Password is the plaintext password.
	Password string `json:"password"`
}

// TokenPair is an access token with its refresh companion.
type TokenPair struct {
	// AccessToken authenticates API requests.
	AccessToken string `json:"access_token"`
	// RefreshToken mints new pairs via Refresh.
	RefreshToken string `json:"refresh_token"`
	// TokenType is always "Bearer".
	TokenType string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// SignIn verifies the credentials and issues a token pair. Unknown
// logins and wrong passwords produce the same error so accounts cannot
// be enumerated.
func (s *Server) SignIn(ctx context.Context, req SignInRequest) (*TokenPair, error) {
	user, err := s.lookup(ctx, req.Login)
	if err != nil {
		if trace.IsNotFound(err) {
			// Burn comparable time so a missing account is not
			// distinguishable by latency.
			bcrypt.CompareHashAndPassword(fakeHash, []byte(req.Password))
			return nil, trace.AccessDenied("invalid credentials")
		}
		return nil, trace.Wrap(err)
	}
	hash, err := s.cfg.Identity.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil {
		return nil, trace.AccessDenied("invalid credentials")
	}
	if !user.IsActive {
		return nil, trace.AccessDenied("account is deactivated")
	}
	if err := s.cfg.Identity.UpdateUserLastLogin(ctx, user.ID, s.cfg.Clock.Now().UTC()); err != nil {
		s.log.WarnContext(ctx, "Failed to record login time.", "user", user.ID, "error", err)
	}
	pair, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	s.log.InfoContext(ctx, "User signed in.", "user", user.ID)
	return pair, nil
}

// fakeHash is a bcrypt hash of an unguessable value, compared against
// when the login does not exist.
var fakeHash = []byte("$2a$10$VoVmkQh8RyXtX2UJ0eUOWuRs3zJ0FH6u9K0cKQ0iCyhhEeGzeLEeq")

func (s *Server) lookup(ctx context.Context, login string) (*types.User, error) {
	if strings.Contains(login, "@") {
		user, err := s.cfg.Identity.GetUserByEmail(ctx, login)
		return user, trace.Wrap(err)
	}
	user, err := s.cfg.Identity.GetUserByUsername(ctx, login)
	return user, trace.Wrap(err)
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *Server) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := s.cfg.Identity.GetUser(ctx, claims.Subject)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, trace.AccessDenied("invalid refresh token")
		}
		return nil, trace.Wrap(err)
	}
	if !user.IsActive {
		return nil, trace.AccessDenied("account is deactivated")
	}
	pair, err := s.issueTokens(user.ID)
	return pair, trace.Wrap(err)
}

// Authenticate resolves an access token to the acting principal. The
// account's active flag is re-read on every call so deactivation takes
// effect before the token expires.
func (s *Server) Authenticate(ctx context.Context, accessToken string) (types.Principal, error) {
	claims, err := s.parseToken(accessToken, tokenTypeAccess)
	if err != nil {
		return types.Principal{}, trace.Wrap(err)
	}
	user, err := s.cfg.Identity.GetUser(ctx, claims.Subject)
	if err != nil {
		if trace.IsNotFound(err) {
			return types.Principal{}, trace.AccessDenied("invalid access token")
		}
		return types.Principal{}, trace.Wrap(err)
	}
	return types.Principal{ID: user.ID, IsActive: user.IsActive}, nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	// TokenType distinguishes access from refresh tokens so one cannot
	// be replayed as the other.
	TokenType string `json:"typ"`
}

func (s *Server) issueTokens(userID string) (*TokenPair, error) {
	access, err := s.signToken(userID, tokenTypeAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	refresh, err := s.signToken(userID, tokenTypeRefresh, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
	}, nil
}

func (s *Server) signToken(userID, tokenType string, ttl time.Duration) (string, error) {
	now := s.cfg.Clock.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
	})
	signed, err := token.SignedString(s.cfg.SigningKey)
	return signed, trace.Wrap(err)
}

func (s *Server) parseToken(raw, wantType string) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(token *jwt.Token) (any, error) {
			return s.cfg.SigningKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Clock.Now),
	)
	if err != nil {
		return nil, trace.AccessDenied("invalid or expired token")
	}
	if claims.TokenType != wantType {
		return nil, trace.AccessDenied("invalid or expired token")
	}
	return &claims, nil
}
