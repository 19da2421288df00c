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

import "fmt"

// kind tags which of Value's fields is live. Parameter binding and
// column extraction are both polymorphic over this closed set, per
// spec.md §9's "polymorphic value handling" design note.
type kind int

const (
	kindNull kind = iota
	kindInt
	kindFloat
	kindText
	kindBlob
)

// Value is a tagged-variant SQLite value: exactly one of null, int64,
// float64, text, or blob, matching the five SQLite storage classes in
// spec.md §4.4's extraction table.
type Value struct {
	kind kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null is the null sentinel value.
func Null() Value { return Value{kind: kindNull} }

// Int wraps an integer value for binding.
func Int(v int64) Value { return Value{kind: kindInt, i: v} }

// Float wraps a floating-point value for binding.
func Float(v float64) Value { return Value{kind: kindFloat, f: v} }

// Text wraps a UTF-8 text value for binding.
func Text(v string) Value { return Value{kind: kindText, s: v} }

// Blob wraps a byte-string value for binding.
func Blob(v []byte) Value { return Value{kind: kindBlob, b: v} }

// IsNull reports whether v is the null sentinel.
func (v Value) IsNull() bool { return v.kind == kindNull }

// Int64 returns v's integer value and whether v holds one.
func (v Value) Int64() (int64, bool) { return v.i, v.kind == kindInt }

// Float64 returns v's floating-point value and whether v holds one.
func (v Value) Float64() (float64, bool) { return v.f, v.kind == kindFloat }

// Text returns v's text value and whether v holds one.
func (v Value) Text() (string, bool) { return v.s, v.kind == kindText }

// Blob returns v's blob value and whether v holds one.
func (v Value) Blob() ([]byte, bool) { return v.b, v.kind == kindBlob }

func (v Value) String() string {
	switch v.kind {
	case kindNull:
		return "NULL"
	case kindInt:
		return fmt.Sprintf("%d", v.i)
	case kindFloat:
		return fmt.Sprintf("%v", v.f)
	case kindText:
		return v.s
	case kindBlob:
		return fmt.Sprintf("%x", v.b)
	default:
		return "<invalid>"
	}
}

// driverArg converts v into the value the SQLite driver binds: int64,
// float64, string, []byte, or nil. See spec.md §4.4's bind table.
func (v Value) driverArg() (any, error) {
	switch v.kind {
	case kindNull:
		return nil, nil
	case kindInt:
		return v.i, nil
	case kindFloat:
		return v.f, nil
	case kindText:
		return v.s, nil
	case kindBlob:
		return v.b, nil
	default:
		return nil, ErrUnsupportedParameterType
	}
}

// valueFromColumn converts a value the driver produced when scanning a
// result column back into our tagged Value, per spec.md §4.4's
// extraction table. The mattn/go-sqlite3 driver already inspects
// sqlite3_column_type per value and yields exactly one of these five Go
// types, so no further type probing is necessary here.
func valueFromColumn(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case int64:
		return Int(x)
	case float64:
		return Float(x)
	case string:
		return Text(x)
	case []byte:
		cp := make([]byte, len(x))
		copy(cp, x)
		return Blob(cp)
	default:
		// The driver never produces any other type for a column
		// value; fall back to text rendering rather than panicking.
		return Text(fmt.Sprintf("%v", x))
	}
}

// NamedParam is a single (name, value) pair resolved to a bind index
// via SQLite's name-to-index lookup, per spec.md §4.4's "Named"
// parameter surface. Name may be given with or without its SQLite
// prefix character (":first" or "first" both resolve to the same bind
// index).
type NamedParam struct {
	Name  string
	Value Value
}
