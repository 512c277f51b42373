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

package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeText trims surrounding whitespace, strips control characters and
// truncates the result to at most maxLen bytes while keeping it valid
// UTF-8. A maxLen of zero means no truncation. Applied to every free-text
// field before it reaches storage.
func SanitizeText(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxLen > 0 && len(s) > maxLen {
		s = truncateUTF8(s, maxLen)
	}
	return s
}

// SanitizeLine is SanitizeText for single-line fields: newlines and tabs
// are stripped along with the other control characters.
func SanitizeLine(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if maxLen > 0 && len(s) > maxLen {
		s = truncateUTF8(s, maxLen)
	}
	return s
}

// truncateUTF8 cuts s to at most maxLen bytes without splitting a rune.
func truncateUTF8(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace)
}
