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

// Package utils holds small helpers shared across the keepsake codebase.
package utils

import (
	"github.com/gravitational/trace"
	jsoniter "github.com/json-iterator/go"
)

// FastMarshal uses the json-iterator library for JSON serialization of
// storage records. It is compatible with encoding/json output but
// considerably faster on the hot paths of the services layer.
func FastMarshal(v any) ([]byte, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// FastUnmarshal is the json-iterator counterpart of FastMarshal.
func FastUnmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return trace.BadParameter("missing record data")
	}
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, v); err != nil {
		return trace.BadParameter("failed to decode record: %v", err)
	}
	return nil
}
