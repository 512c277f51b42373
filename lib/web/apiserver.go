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

// Package web implements the versioned HTTP API of the keepsake server.
package web

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/auth"
	"github.com/gravitational/keepsake/lib/capsule"
	"github.com/gravitational/keepsake/lib/defaults"
	"github.com/gravitational/keepsake/lib/httplib"
	"github.com/gravitational/keepsake/lib/services"
)

// APIServerConfig holds the gateway dependencies.
type APIServerConfig struct {
	// Auth issues and validates bearer tokens.
	Auth *auth.Server
	// Capsules is the capsule facade.
	Capsules *capsule.Server
	// Identity resolves the authenticated user for /auth/me.
	Identity services.Identity
	// AuthRateLimitPerSecond overrides the sustained signup/login rate
	// per client address.
	AuthRateLimitPerSecond float64
	// AuthRateLimitBurst overrides the signup/login burst per client
	// address.
	AuthRateLimitBurst int
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger is the structured logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (cfg *APIServerConfig) CheckAndSetDefaults() error {
	if cfg.Auth == nil {
		return trace.BadParameter("missing parameter Auth")
	}
	if cfg.Capsules == nil {
		return trace.BadParameter("missing parameter Capsules")
	}
	if cfg.Identity == nil {
		return trace.BadParameter("missing parameter Identity")
	}
	if cfg.AuthRateLimitPerSecond == 0 {
		cfg.AuthRateLimitPerSecond = defaults.AuthRateLimitPerSecond
	}
	if cfg.AuthRateLimitBurst == 0 {
		cfg.AuthRateLimitBurst = defaults.AuthRateLimitBurst
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.With(keepsake.ComponentKey, keepsake.ComponentWeb)
	}
	return nil
}

// APIServer serves the versioned JSON API.
type APIServer struct {
	httprouter.Router
	cfg     APIServerConfig
	log     *slog.Logger
	limiter *clientLimiter
}

// NewAPIServer returns a router serving the v1 API.
func NewAPIServer(cfg APIServerConfig) (*APIServer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	s := &APIServer{
		cfg: cfg,
		log: cfg.Logger,
		limiter: newClientLimiter(
			rate.Limit(cfg.AuthRateLimitPerSecond), cfg.AuthRateLimitBurst),
	}

	s.POST("/v1/auth/signup", httplib.MakeHandlerWithCode(s.limited(s.signUp), http.StatusCreated))
	s.POST("/v1/auth/login", httplib.MakeHandler(s.limited(s.signIn)))
	s.POST("/v1/auth/refresh", httplib.MakeHandler(s.refresh))
	s.GET("/v1/auth/me", s.withAuth(s.currentUser))

	s.POST("/v1/capsules", s.withAuthCode(s.createCapsule, http.StatusCreated))
	s.GET("/v1/capsules", s.withAuth(s.listCapsules))
	s.GET("/v1/capsules/:id", s.withAuth(s.getCapsule))
	s.PUT("/v1/capsules/:id", s.withAuth(s.updateCapsule))
	s.POST("/v1/capsules/:id/seal", s.withAuth(s.sealCapsule))
	s.POST("/v1/capsules/:id/open", s.withAuth(s.openCapsule))
	s.DELETE("/v1/capsules/:id", s.withAuth(s.deleteCapsule))

	s.POST("/v1/drafts", s.withAuthCode(s.createDraft, http.StatusCreated))
	s.GET("/v1/drafts", s.withAuth(s.listDrafts))
	s.GET("/v1/drafts/:id", s.withAuth(s.getDraft))
	s.PUT("/v1/drafts/:id", s.withAuth(s.updateDraft))
	s.DELETE("/v1/drafts/:id", s.withAuth(s.deleteDraft))
	s.POST("/v1/drafts/:id/promote", s.withAuthCode(s.promoteDraft, http.StatusCreated))

	s.POST("/v1/recipients", s.withAuthCode(s.createRecipient, http.StatusCreated))
	s.GET("/v1/recipients", s.withAuth(s.listRecipients))
	s.DELETE("/v1/recipients/:id", s.withAuth(s.deleteRecipient))

	s.GET("/v1/ping", httplib.MakeHandler(s.ping))
	return s, nil
}

// authHandler is a handler that runs on behalf of an authenticated
// principal.
type authHandler func(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error)

func (s *APIServer) withAuth(fn authHandler) httprouter.Handle {
	return s.withAuthCode(fn, http.StatusOK)
}

// withAuthCode resolves the bearer token before invoking the handler.
// Missing or invalid credentials reply 401; everything past this point
// speaks the trace taxonomy.
func (s *APIServer) withAuthCode(fn authHandler, code int) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		principal, err := s.authenticate(r)
		if err != nil {
			roundtrip.ReplyJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"message": trace.UserMessage(err)},
			})
			return
		}
		httplib.MakeHandlerWithCode(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
			return fn(w, r, p, principal)
		}, code)(w, r, p)
	}
}

func (s *APIServer) authenticate(r *http.Request) (types.Principal, error) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return types.Principal{}, trace.AccessDenied("missing bearer token")
	}
	principal, err := s.cfg.Auth.Authenticate(r.Context(), token)
	return principal, trace.Wrap(err)
}

// limited applies the per-client token bucket shared by the credential
// endpoints.
func (s *APIServer) limited(fn httplib.HandlerFunc) httplib.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		if !s.limiter.allow(clientAddr(r)) {
			return nil, trace.LimitExceeded("too many authentication attempts, slow down")
		}
		return fn(w, r, p)
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// signUpResponse returns the created account together with its first
// token pair so clients need no follow-up login.
type signUpResponse struct {
	User *types.User `json:"user"`
	*auth.TokenPair
}

func (s *APIServer) signUp(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req auth.SignUpRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := s.cfg.Auth.SignUp(r.Context(), req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pair, err := s.cfg.Auth.SignIn(r.Context(), auth.SignInRequest{
		Login:    user.Email,
		Password: req.Password,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return signUpResponse{User: user, TokenPair: pair}, nil
}

func (s *APIServer) signIn(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req auth.SignInRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	pair, err := s.cfg.Auth.SignIn(r.Context(), req)
	return pair, trace.Wrap(err)
}

func (s *APIServer) refresh(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	pair, err := s.cfg.Auth.Refresh(r.Context(), req.RefreshToken)
	return pair, trace.Wrap(err)
}

func (s *APIServer) currentUser(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	user, err := s.cfg.Identity.GetUser(r.Context(), principal.ID)
	return user, trace.Wrap(err)
}

func (s *APIServer) createCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.CreateCapsuleRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	created, err := s.cfg.Capsules.CreateCapsule(r.Context(), principal, req)
	return created, trace.Wrap(err)
}

func (s *APIServer) listCapsules(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	q := r.URL.Query()
	req := capsule.ListRequest{
		Box:   capsule.Box(q.Get("box")),
		State: q.Get("state"),
	}
	var err error
	if req.Page, err = queryInt(q.Get("page")); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.PageSize, err = queryInt(q.Get("page_size")); err != nil {
		return nil, trace.Wrap(err)
	}
	page, err := s.cfg.Capsules.ListCapsules(r.Context(), principal, req)
	return page, trace.Wrap(err)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, trace.BadParameter("invalid numeric query parameter %q", v)
	}
	return n, nil
}

func (s *APIServer) getCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	c, err := s.cfg.Capsules.GetCapsule(r.Context(), principal, p.ByName("id"))
	return c, trace.Wrap(err)
}

func (s *APIServer) updateCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.UpdateCapsuleRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	updated, err := s.cfg.Capsules.UpdateCapsule(r.Context(), principal, p.ByName("id"), req)
	return updated, trace.Wrap(err)
}

func (s *APIServer) sealCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req struct {
		UnlockAt time.Time `json:"unlock_at"`
	}
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	if req.UnlockAt.IsZero() {
		return nil, trace.BadParameter("missing unlock_at")
	}
	sealed, err := s.cfg.Capsules.SealCapsule(r.Context(), principal, p.ByName("id"), req.UnlockAt)
	return sealed, trace.Wrap(err)
}

func (s *APIServer) openCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	opened, err := s.cfg.Capsules.OpenCapsule(r.Context(), principal, p.ByName("id"))
	return opened, trace.Wrap(err)
}

func (s *APIServer) deleteCapsule(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	err := s.cfg.Capsules.DeleteCapsule(r.Context(), principal, p.ByName("id"))
	return nil, trace.Wrap(err)
}

func (s *APIServer) createDraft(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.DraftRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	draft, err := s.cfg.Capsules.CreateDraft(r.Context(), principal, req)
	return draft, trace.Wrap(err)
}

func (s *APIServer) listDrafts(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	drafts, err := s.cfg.Capsules.ListDrafts(r.Context(), principal)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"items": drafts}, nil
}

func (s *APIServer) getDraft(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	draft, err := s.cfg.Capsules.GetDraft(r.Context(), principal, p.ByName("id"))
	return draft, trace.Wrap(err)
}

func (s *APIServer) updateDraft(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.DraftRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	draft, err := s.cfg.Capsules.UpdateDraft(r.Context(), principal, p.ByName("id"), req)
	return draft, trace.Wrap(err)
}

func (s *APIServer) deleteDraft(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	err := s.cfg.Capsules.DeleteDraft(r.Context(), principal, p.ByName("id"))
	return nil, trace.Wrap(err)
}

func (s *APIServer) promoteDraft(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.PromoteDraftRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	created, err := s.cfg.Capsules.PromoteDraft(r.Context(), principal, p.ByName("id"), req)
	return created, trace.Wrap(err)
}

func (s *APIServer) createRecipient(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	var req capsule.CreateRecipientRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}
	recipient, err := s.cfg.Capsules.CreateRecipient(r.Context(), principal, req)
	return recipient, trace.Wrap(err)
}

func (s *APIServer) listRecipients(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	recipients, err := s.cfg.Capsules.ListRecipients(r.Context(), principal)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]any{"items": recipients}, nil
}

func (s *APIServer) deleteRecipient(w http.ResponseWriter, r *http.Request, p httprouter.Params, principal types.Principal) (any, error) {
	err := s.cfg.Capsules.DeleteRecipient(r.Context(), principal, p.ByName("id"))
	return nil, trace.Wrap(err)
}

func (s *APIServer) ping(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
	return map[string]any{
		"server_version": keepsake.Version,
	}, nil
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	return &clientLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   limit,
		burst:   burst,
	}
}

func (l *clientLimiter) allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket, ok := l.buckets[addr]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[addr] = bucket
	}
	return bucket.Allow()
}
