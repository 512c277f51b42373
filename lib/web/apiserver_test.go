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

package web

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/keepsake"
	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/auth"
	"github.com/gravitational/keepsake/lib/backend/memory"
	"github.com/gravitational/keepsake/lib/capsule"
	"github.com/gravitational/keepsake/lib/client"
	"github.com/gravitational/keepsake/lib/lifecycle"
	"github.com/gravitational/keepsake/lib/notify"
	"github.com/gravitational/keepsake/lib/services/local"
	"github.com/gravitational/keepsake/lib/unlock"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type webPack struct {
	url    string
	clock  *clockwork.FakeClock
	unlock *unlock.Service
}

func newWebPack(t *testing.T) *webPack {
	t.Helper()
	b := memory.New()
	t.Cleanup(func() { b.Close() })

	clock := clockwork.NewFakeClockAt(t0)
	machine, err := lifecycle.New(lifecycle.Config{})
	require.NoError(t, err)

	identity := local.NewIdentityService(b)
	capsules := local.NewCapsuleService(b)

	authServer, err := auth.NewServer(auth.ServerConfig{
		Identity:   identity,
		SigningKey: []byte("test-signing-key"),
		BCryptCost: 4,
		Clock:      clock,
	})
	require.NoError(t, err)

	facade, err := capsule.NewServer(capsule.ServerConfig{
		Capsules:   capsules,
		Identity:   identity,
		Drafts:     local.NewDraftService(b),
		Recipients: local.NewRecipientService(b),
		Machine:    machine,
		Clock:      clock,
	})
	require.NoError(t, err)

	sweeper, err := unlock.NewService(unlock.ServiceConfig{
		Capsules: capsules,
		Machine:  machine,
		Notifier: notify.NewRecorder(),
		Clock:    clock,
	})
	require.NoError(t, err)

	api, err := NewAPIServer(APIServerConfig{
		Auth:     authServer,
		Capsules: facade,
		Identity: identity,
		Clock:    clock,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &webPack{url: srv.URL, clock: clock, unlock: sweeper}
}

func (p *webPack) signUp(t *testing.T, name string) *client.Client {
	t.Helper()
	anon, err := client.New(p.url)
	require.NoError(t, err)
	resp, err := anon.SignUp(context.Background(), auth.SignUpRequest{
		Email:    fmt.Sprintf("%v@example.com", name),
		Username: name,
		Password: "correct horse",
	})
	require.NoError(t, err)
	authed, err := client.New(p.url, roundtrip.BearerAuth(resp.AccessToken))
	require.NoError(t, err)
	return authed
}

func TestPing(t *testing.T) {
	p := newWebPack(t)
	c, err := client.New(p.url)
	require.NoError(t, err)
	version, err := c.Ping(context.Background())
	require.NoError(t, err)
	require.Equal(t, keepsake.Version, version)
}

func TestAuthFlow(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)

	anon, err := client.New(p.url)
	require.NoError(t, err)

	resp, err := anon.SignUp(ctx, auth.SignUpRequest{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "correct horse",
		FullName: "Alice",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", resp.User.Username)
	require.NotEmpty(t, resp.AccessToken)

	// Duplicate signup conflicts.
	_, err = anon.SignUp(ctx, auth.SignUpRequest{
		Email: "alice@example.com", Username: "alice2", Password: "correct horse",
	})
	require.True(t, trace.IsAlreadyExists(err))

	// Login with either identifier.
	pair, err := anon.SignIn(ctx, auth.SignInRequest{Login: "alice", Password: "correct horse"})
	require.NoError(t, err)

	// Wrong password is denied.
	_, err = anon.SignIn(ctx, auth.SignInRequest{Login: "alice", Password: "nope"})
	require.True(t, trace.IsAccessDenied(err))

	// Refresh mints a usable pair.
	fresh, err := anon.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	authed, err := client.New(p.url, roundtrip.BearerAuth(fresh.AccessToken))
	require.NoError(t, err)
	me, err := authed.CurrentUser(ctx)
	require.NoError(t, err)
	require.Equal(t, resp.User.ID, me.ID)

	// No token or a bad token is unauthorized.
	_, err = anon.CurrentUser(ctx)
	require.True(t, trace.IsAccessDenied(err))
	bogus, err := client.New(p.url, roundtrip.BearerAuth("bogus"))
	require.NoError(t, err)
	_, err = bogus.CurrentUser(ctx)
	require.True(t, trace.IsAccessDenied(err))
}

// TestCapsuleJourney walks a capsule over the wire from composition
// through its unlock to the terminal open, checking the gate behavior a
// client observes along the way.
func TestCapsuleJourney(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)
	alice := p.signUp(t, "alice")
	bob := p.signUp(t, "bob")

	bobUser, err := bob.CurrentUser(ctx)
	require.NoError(t, err)

	created, err := alice.CreateCapsule(ctx, capsule.CreateCapsuleRequest{
		ReceiverID: bobUser.ID,
		Title:      "ten years later",
		Body:       "remember this day",
	})
	require.NoError(t, err)
	require.Equal(t, types.StateDraft, created.State)

	// Receiver cannot see the draft at all.
	_, err = bob.GetCapsule(ctx, created.ID)
	require.True(t, trace.IsNotFound(err))

	// Sealing with an unlock instant in bounds.
	unlockAt := t0.Add(10 * 24 * time.Hour)
	sealed, err := alice.SealCapsule(ctx, created.ID, unlockAt)
	require.NoError(t, err)
	require.Equal(t, types.StateSealed, sealed.State)

	// Editing a sealed capsule is forbidden with the gate's reason.
	title := "rewritten"
	_, err = alice.UpdateCapsule(ctx, created.ID, capsule.UpdateCapsuleRequest{Title: &title})
	require.True(t, trace.IsAccessDenied(err))
	require.ErrorContains(t, err, "Cannot edit capsule in sealed state")

	// Opening before the unlock instant is forbidden.
	_, err = bob.OpenCapsule(ctx, created.ID)
	require.True(t, trace.IsAccessDenied(err))

	// The sweep moves the capsule into unfolding once the threshold is
	// crossed; the receiver sees metadata but no content.
	p.clock.Advance(7*24*time.Hour + time.Minute)
	_, err = p.unlock.Sweep(ctx)
	require.NoError(t, err)
	teaser, err := bob.GetCapsule(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateUnfolding, teaser.State)
	require.Equal(t, "ten years later", teaser.Title)
	require.Empty(t, teaser.Body)

	// A second sweep at the unlock instant makes it ready.
	p.clock.Advance(3 * 24 * time.Hour)
	_, err = p.unlock.Sweep(ctx)
	require.NoError(t, err)

	// Only the receiver opens.
	_, err = alice.OpenCapsule(ctx, created.ID)
	require.True(t, trace.IsAccessDenied(err))
	opened, err := bob.OpenCapsule(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateOpened, opened.State)
	require.Equal(t, "remember this day", opened.Body)

	// Reopening is an illegal transition.
	_, err = bob.OpenCapsule(ctx, created.ID)
	require.True(t, trace.IsBadParameter(err))
	require.ErrorContains(t, err, "Capsule is already opened")

	// A third user gets 404 for someone else's capsule.
	mallory := p.signUp(t, "mallory")
	_, err = mallory.GetCapsule(ctx, created.ID)
	require.True(t, trace.IsNotFound(err))
}

func TestSealValidationOverWire(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)
	alice := p.signUp(t, "alice")
	me, err := alice.CurrentUser(ctx)
	require.NoError(t, err)

	created, err := alice.CreateCapsule(ctx, capsule.CreateCapsuleRequest{
		ReceiverID: me.ID, Title: "self", Body: "x",
	})
	require.NoError(t, err)

	_, err = alice.SealCapsule(ctx, created.ID, t0.Add(30*time.Second))
	require.True(t, trace.IsBadParameter(err))
	_, err = alice.SealCapsule(ctx, created.ID, t0.Add(6*365*24*time.Hour))
	require.True(t, trace.IsBadParameter(err))
	_, err = alice.SealCapsule(ctx, created.ID, time.Time{})
	require.True(t, trace.IsBadParameter(err))
}

func TestListCapsulesOverWire(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)
	alice := p.signUp(t, "alice")
	bob := p.signUp(t, "bob")
	bobUser, err := bob.CurrentUser(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		created, err := alice.CreateCapsule(ctx, capsule.CreateCapsuleRequest{
			ReceiverID: bobUser.ID,
			Title:      fmt.Sprintf("capsule %d", i),
			Body:       "hi",
		})
		require.NoError(t, err)
		_, err = alice.SealCapsule(ctx, created.ID, t0.Add(24*time.Hour))
		require.NoError(t, err)
	}

	out, err := alice.ListCapsules(ctx, capsule.ListRequest{Box: capsule.Outbox, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	require.Equal(t, 3, out.Total)

	in, err := bob.ListCapsules(ctx, capsule.ListRequest{Box: capsule.Inbox})
	require.NoError(t, err)
	require.Len(t, in.Items, 3)
	for _, item := range in.Items {
		require.Empty(t, item.Body)
	}

	_, err = alice.ListCapsules(ctx, capsule.ListRequest{PageSize: 500})
	require.True(t, trace.IsBadParameter(err))
}

func TestDraftAndRecipientFlow(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)
	alice := p.signUp(t, "alice")
	bob := p.signUp(t, "bob")
	bobUser, err := bob.CurrentUser(ctx)
	require.NoError(t, err)

	recipient, err := alice.CreateRecipient(ctx, capsule.CreateRecipientRequest{
		Name:   "Bob",
		UserID: bobUser.ID,
	})
	require.NoError(t, err)

	draft, err := alice.CreateDraft(ctx, capsule.DraftRequest{
		Title:       "slow letter",
		Body:        "draft body",
		RecipientID: recipient.ID,
	})
	require.NoError(t, err)

	drafts, err := alice.ListDrafts(ctx)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	body := "draft body, v2"
	updated, err := alice.UpdateDraft(ctx, draft.ID, capsule.DraftRequest{
		Title: "slow letter", Body: body, RecipientID: recipient.ID,
	})
	require.NoError(t, err)
	require.Equal(t, body, updated.Body)

	promoted, err := alice.PromoteDraft(ctx, draft.ID, capsule.PromoteDraftRequest{})
	require.NoError(t, err)
	require.Equal(t, bobUser.ID, promoted.ReceiverID)
	require.Equal(t, body, promoted.Body)

	drafts, err = alice.ListDrafts(ctx)
	require.NoError(t, err)
	require.Empty(t, drafts)

	contacts, err := alice.ListRecipients(ctx)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.NoError(t, alice.DeleteRecipient(ctx, recipient.ID))
}

func TestAuthRateLimit(t *testing.T) {
	ctx := context.Background()
	p := newWebPack(t)
	anon, err := client.New(p.url)
	require.NoError(t, err)

	// The per-client bucket eventually runs dry; denied credentials do
	// not matter, every attempt spends a token.
	var limited bool
	for i := 0; i < 50; i++ {
		_, err := anon.SignIn(ctx, auth.SignInRequest{Login: "nobody", Password: "x"})
		if trace.IsLimitExceeded(err) {
			limited = true
			break
		}
		require.True(t, trace.IsAccessDenied(err))
	}
	require.True(t, limited, "expected the rate limiter to kick in")
}
