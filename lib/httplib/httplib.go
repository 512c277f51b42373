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

// Package httplib implements the glue between HTTP handlers and the
// trace error taxonomy: handlers return a value and an error, and the
// adapter turns them into JSON replies with the right status code.
package httplib

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/keepsake/lib/utils"
)

// maxRequestBody bounds request bodies to keep a hostile client from
// exhausting memory.
const maxRequestBody = 1 << 20 // 1MB

// HandlerFunc is an HTTP handler that returns a JSON-serializable reply
// or an error from the trace taxonomy.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler adapts a HandlerFunc to httprouter. A nil reply with a
// nil error produces 200 with an empty JSON object.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return MakeHandlerWithCode(fn, http.StatusOK)
}

// MakeHandlerWithCode is MakeHandler with a custom success status,
// used by creation endpoints that reply 201.
func MakeHandlerWithCode(fn HandlerFunc, code int) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, r, err)
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		roundtrip.ReplyJSON(w, code, out)
	}
}

// ReadJSON decodes a bounded JSON request body into val.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := utils.FastUnmarshal(data, val); err != nil {
		return trace.BadParameter("invalid request body: %v", err)
	}
	return nil
}

// ErrorToStatus maps a trace error to its HTTP status code.
func ErrorToStatus(err error) int {
	switch {
	case trace.IsNotFound(err):
		return http.StatusNotFound
	case trace.IsAccessDenied(err):
		return http.StatusForbidden
	case trace.IsBadParameter(err):
		return http.StatusBadRequest
	case trace.IsAlreadyExists(err):
		return http.StatusConflict
	case trace.IsCompareFailed(err):
		return http.StatusConflict
	case trace.IsLimitExceeded(err):
		return http.StatusTooManyRequests
	case trace.IsConnectionProblem(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ReplyError writes an error reply with the status implied by the error
// kind. Internal errors are logged and their details withheld from the
// client.
func ReplyError(w http.ResponseWriter, r *http.Request, err error) {
	status := ErrorToStatus(err)
	message := trace.UserMessage(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Handler returned unexpected error.",
			"method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal server error"
	}
	roundtrip.ReplyJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
		},
	})
}
