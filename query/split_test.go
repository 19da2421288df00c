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

import (
	"reflect"
	"testing"
)

func TestSplitStatementsBasic(t *testing.T) {
	got := splitStatements("SELECT 1; SELECT 2;")
	want := []string{"SELECT 1", "SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsNoTrailingSemicolon(t *testing.T) {
	got := splitStatements("SELECT 1; SELECT 2")
	want := []string{"SELECT 1", "SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsSemicolonInsideString(t *testing.T) {
	got := splitStatements(`SELECT 'a;b'; SELECT 2;`)
	want := []string{`SELECT 'a;b'`, "SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsEscapedQuote(t *testing.T) {
	got := splitStatements(`SELECT 'it''s; a test'; SELECT 2;`)
	want := []string{`SELECT 'it''s; a test'`, "SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsLineComment(t *testing.T) {
	got := splitStatements("SELECT 1; -- a comment; with a semicolon\nSELECT 2;")
	want := []string{"SELECT 1", "-- a comment; with a semicolon\nSELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsBlockComment(t *testing.T) {
	got := splitStatements("SELECT 1; /* a; b */ SELECT 2;")
	want := []string{"SELECT 1", "/* a; b */ SELECT 2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSplitStatementsEmptyInput(t *testing.T) {
	if got := splitStatements("   ;  ; "); got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestSplitStatementsSingleNoSemicolon(t *testing.T) {
	got := splitStatements("SELECT my_col_a FROM my_table")
	want := []string{"SELECT my_col_a FROM my_table"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
