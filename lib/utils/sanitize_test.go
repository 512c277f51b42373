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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{name: "trims whitespace", in: "  hello  ", want: "hello"},
		{name: "strips control chars", in: "he\x00ll\x07o", want: "hello"},
		{name: "keeps newlines", in: "line one\nline two", want: "line one\nline two"},
		{name: "keeps tabs", in: "a\tb", want: "a\tb"},
		{name: "truncates", in: strings.Repeat("a", 300), maxLen: 255, want: strings.Repeat("a", 255)},
		{name: "empty stays empty", in: "   ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, SanitizeText(tt.in, tt.maxLen))
		})
	}
}

func TestSanitizeLine(t *testing.T) {
	require.Equal(t, "ab", SanitizeLine("a\nb", 0))
	require.Equal(t, "ab", SanitizeLine("a\tb", 0))
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	// 2-byte runes; an odd byte limit would split one.
	s := strings.Repeat("é", 100)
	out := SanitizeText(s, 101)
	require.LessOrEqual(t, len(out), 101)
	require.True(t, strings.HasPrefix(s, out))
	require.Equal(t, 50, len([]rune(out)))
}
