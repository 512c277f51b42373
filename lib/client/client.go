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

// Package client implements a typed HTTP client for the keepsake v1 API.
// Server errors are converted back into the trace taxonomy, so callers
// can use the same predicates on both sides of the wire.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/keepsake/api/types"
	"github.com/gravitational/keepsake/lib/auth"
	"github.com/gravitational/keepsake/lib/capsule"
	"github.com/gravitational/keepsake/lib/utils"
)

// Client is a keepsake API client.
type Client struct {
	roundtrip.Client
}

// New returns a client for the keepsake server at addr. Pass
// roundtrip.BearerAuth to authenticate requests.
func New(addr string, params ...roundtrip.ClientParam) (*Client, error) {
	c, err := roundtrip.NewClient(addr, "v1", params...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{Client: *c}, nil
}

// errorEnvelope is the error reply shape of the server.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// convertResponse maps an error reply back to the trace kind implied by
// its status code.
func convertResponse(resp *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if resp.Code() < 300 {
		return resp, nil
	}
	var envelope errorEnvelope
	message := "unexpected server error"
	if utils.FastUnmarshal(resp.Bytes(), &envelope) == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	switch resp.Code() {
	case http.StatusNotFound:
		return nil, trace.NotFound("%s", message)
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, trace.AccessDenied("%s", message)
	case http.StatusBadRequest:
		return nil, trace.BadParameter("%s", message)
	case http.StatusConflict:
		return nil, trace.AlreadyExists("%s", message)
	case http.StatusTooManyRequests:
		return nil, trace.LimitExceeded("%s", message)
	default:
		return nil, trace.Errorf("%v: %s", resp.Code(), message)
	}
}

func (c *Client) postJSON(ctx context.Context, endpoint string, req any, out any) error {
	resp, err := convertResponse(c.PostJSON(ctx, endpoint, req))
	if err != nil {
		return trace.Wrap(err)
	}
	if out == nil {
		return nil
	}
	return trace.Wrap(utils.FastUnmarshal(resp.Bytes(), out))
}

func (c *Client) putJSON(ctx context.Context, endpoint string, req any, out any) error {
	resp, err := convertResponse(c.PutJSON(ctx, endpoint, req))
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(utils.FastUnmarshal(resp.Bytes(), out))
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	resp, err := convertResponse(c.Get(ctx, endpoint, params))
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(utils.FastUnmarshal(resp.Bytes(), out))
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	_, err := convertResponse(c.Delete(ctx, endpoint))
	return trace.Wrap(err)
}

// Ping fetches the server version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		ServerVersion string `json:"server_version"`
	}
	if err := c.get(ctx, c.Endpoint("ping"), nil, &out); err != nil {
		return "", trace.Wrap(err)
	}
	return out.ServerVersion, nil
}

// SignUpResponse is the reply to SignUp.
type SignUpResponse struct {
	// User is the created account.
	User *types.User `json:"user"`
	auth.TokenPair
}

// SignUp registers an account and returns it with its first token pair.
func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*SignUpResponse, error) {
	var out SignUpResponse
	if err := c.postJSON(ctx, c.Endpoint("auth", "signup"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// SignIn exchanges credentials for a token pair.
func (c *Client) SignIn(ctx context.Context, req auth.SignInRequest) (*auth.TokenPair, error) {
	var out auth.TokenPair
	if err := c.postJSON(ctx, c.Endpoint("auth", "login"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a fresh token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	var out auth.TokenPair
	req := map[string]string{"refresh_token": refreshToken}
	if err := c.postJSON(ctx, c.Endpoint("auth", "refresh"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// CurrentUser returns the account behind the bearer token.
func (c *Client) CurrentUser(ctx context.Context) (*types.User, error) {
	var out types.User
	if err := c.get(ctx, c.Endpoint("auth", "me"), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// CreateCapsule creates a draft capsule.
func (c *Client) CreateCapsule(ctx context.Context, req capsule.CreateCapsuleRequest) (*types.Capsule, error) {
	var out types.Capsule
	if err := c.postJSON(ctx, c.Endpoint("capsules"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// GetCapsule fetches a capsule. The reply is the view-gated projection.
func (c *Client) GetCapsule(ctx context.Context, id string) (*types.Capsule, error) {
	var out types.Capsule
	if err := c.get(ctx, c.Endpoint("capsules", id), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// UpdateCapsule patches the content fields of a draft capsule.
func (c *Client) UpdateCapsule(ctx context.Context, id string, req capsule.UpdateCapsuleRequest) (*types.Capsule, error) {
	var out types.Capsule
	if err := c.putJSON(ctx, c.Endpoint("capsules", id), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// SealCapsule binds the capsule to an unlock instant.
func (c *Client) SealCapsule(ctx context.Context, id string, unlockAt time.Time) (*types.Capsule, error) {
	var out types.Capsule
	req := map[string]time.Time{"unlock_at": unlockAt}
	if err := c.postJSON(ctx, c.Endpoint("capsules", id, "seal"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// OpenCapsule opens a ready capsule.
func (c *Client) OpenCapsule(ctx context.Context, id string) (*types.Capsule, error) {
	var out types.Capsule
	if err := c.postJSON(ctx, c.Endpoint("capsules", id, "open"), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// DeleteCapsule deletes a draft capsule.
func (c *Client) DeleteCapsule(ctx context.Context, id string) error {
	return trace.Wrap(c.delete(ctx, c.Endpoint("capsules", id)))
}

// ListCapsules pages through the principal's inbox or outbox.
func (c *Client) ListCapsules(ctx context.Context, req capsule.ListRequest) (*capsule.Page, error) {
	params := url.Values{}
	if req.Box != "" {
		params.Set("box", string(req.Box))
	}
	if req.State != "" {
		params.Set("state", req.State)
	}
	if req.Page != 0 {
		params.Set("page", strconv.Itoa(req.Page))
	}
	if req.PageSize != 0 {
		params.Set("page_size", strconv.Itoa(req.PageSize))
	}
	var out capsule.Page
	if err := c.get(ctx, c.Endpoint("capsules"), params, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// CreateDraft stores a scratchpad draft.
func (c *Client) CreateDraft(ctx context.Context, req capsule.DraftRequest) (*types.Draft, error) {
	var out types.Draft
	if err := c.postJSON(ctx, c.Endpoint("drafts"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// GetDraft fetches a scratchpad draft.
func (c *Client) GetDraft(ctx context.Context, id string) (*types.Draft, error) {
	var out types.Draft
	if err := c.get(ctx, c.Endpoint("drafts", id), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// UpdateDraft overwrites a scratchpad draft.
func (c *Client) UpdateDraft(ctx context.Context, id string, req capsule.DraftRequest) (*types.Draft, error) {
	var out types.Draft
	if err := c.putJSON(ctx, c.Endpoint("drafts", id), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// ListDrafts returns the principal's drafts.
func (c *Client) ListDrafts(ctx context.Context) ([]*types.Draft, error) {
	var out struct {
		Items []*types.Draft `json:"items"`
	}
	if err := c.get(ctx, c.Endpoint("drafts"), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.Items, nil
}

// DeleteDraft removes a scratchpad draft.
func (c *Client) DeleteDraft(ctx context.Context, id string) error {
	return trace.Wrap(c.delete(ctx, c.Endpoint("drafts", id)))
}

// PromoteDraft turns a scratchpad draft into a draft capsule.
func (c *Client) PromoteDraft(ctx context.Context, id string, req capsule.PromoteDraftRequest) (*types.Capsule, error) {
	var out types.Capsule
	if err := c.postJSON(ctx, c.Endpoint("drafts", id, "promote"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// CreateRecipient adds a contact-book entry.
func (c *Client) CreateRecipient(ctx context.Context, req capsule.CreateRecipientRequest) (*types.Recipient, error) {
	var out types.Recipient
	if err := c.postJSON(ctx, c.Endpoint("recipients"), req, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out, nil
}

// ListRecipients returns the principal's contact book.
func (c *Client) ListRecipients(ctx context.Context) ([]*types.Recipient, error) {
	var out struct {
		Items []*types.Recipient `json:"items"`
	}
	if err := c.get(ctx, c.Endpoint("recipients"), nil, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.Items, nil
}

// DeleteRecipient removes a contact-book entry.
func (c *Client) DeleteRecipient(ctx context.Context, id string) error {
	return trace.Wrap(c.delete(ctx, c.Endpoint("recipients", id)))
}
