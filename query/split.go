// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package query

import "strings"

// splitStatements walks sql top-to-bottom and splits it into individual
// statement texts at top-level ';' boundaries, skipping separators that
// fall inside a quoted string, a bracketed identifier, or a comment.
//
// This stands in for SQLite's own incremental prepare (spec.md §4.4:
// "the manager walks the text with SQLite's incremental prepare,
// producing a lazy sequence of (statement_handle, tail_pointer)
// pairs") -- the mattn/go-sqlite3 driver's public Prepare only ever
// compiles and returns the first statement in a string, silently
// discarding everything after it, so there is no tail pointer to walk
// through that API. Splitting the text ourselves first and preparing
// each piece individually produces the same sequence of compiled
// statements.
func splitStatements(sql string) []string {
	var out []string
	start := 0
	depth := 0
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
			continue
		case c == '[':
			i = skipBracketed(sql, i)
			continue
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
			continue
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
			continue
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			if stmt := strings.TrimSpace(sql[start:i]); stmt != "" {
				out = append(out, stmt)
			}
			start = i + 1
		}
		i++
	}
	if stmt := strings.TrimSpace(sql[start:]); stmt != "" {
		out = append(out, stmt)
	}
	return out
}

// skipQuoted returns the index just past the closing quote matching
// sql[i], honoring SQL's doubled-quote escape (e.g. '' inside a
// '...'-quoted string).
func skipQuoted(sql string, i int, quote byte) int {
	i++
	for i < len(sql) {
		if sql[i] == quote {
			if i+1 < len(sql) && sql[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return i
}

func skipBracketed(sql string, i int) int {
	i++
	for i < len(sql) && sql[i] != ']' {
		i++
	}
	if i < len(sql) {
		i++
	}
	return i
}

func skipLineComment(sql string, i int) int {
	for i < len(sql) && sql[i] != '\n' {
		i++
	}
	return i
}

func skipBlockComment(sql string, i int) int {
	i += 2
	for i+1 < len(sql) && !(sql[i] == '*' && sql[i+1] == '/') {
		i++
	}
	if i+1 < len(sql) {
		i += 2
	} else {
		i = len(sql)
	}
	return i
}
