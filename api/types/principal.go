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

package types

// Principal is the authenticated identity a facade operation runs on
// behalf of. It is produced by the credential service after bearer token
// validation; the facade trusts it but still refuses inactive accounts
// before any business logic runs.
type Principal struct {
	// ID is the user id of the authenticated account.
	ID string `json:"id"`
	// IsActive mirrors the account's active flag at authentication
	// time.
	IsActive bool `json:"is_active"`
}
