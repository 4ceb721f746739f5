// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package mindsdb

import (
	"fmt"
	"regexp"
	"strings"
)

// The MindsDB parser accepts both '' and \' inside single-quoted literals,
// so both the quote and the backslash must be escaped. Escaping only the
// quote lets a trailing backslash in a document swallow the closing quote.
var literalEscaper = strings.NewReplacer(`\`, `\\`, `'`, `''`)

// EscapeString escapes s for use inside a single-quoted SQL literal.
func EscapeString(s string) string {
	return literalEscaper.Replace(s)
}

// QuoteString returns s as a complete single-quoted SQL literal.
func QuoteString(s string) string {
	return "'" + EscapeString(s) + "'"
}

// QuoteStringList renders a bracketed list of literals: ['a', 'b'].
func QuoteStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = QuoteString(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateIdentifier checks names that are interpolated unquoted into
// statements (knowledge bases, models, agents). An optional single
// "project." qualifier is allowed.
func ValidateIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: use letters, digits and underscores", name)
	}
	return nil
}
