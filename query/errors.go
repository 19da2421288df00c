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

import "errors"

// ErrFinalizedStatement is returned when a RowCursor is advanced after
// its owning statement has already been finalized, per spec.md §4.4's
// use-after-finalize rule.
var ErrFinalizedStatement = errors.New("query: attempting to use finalized statement")

// ErrUnsupportedParameterType is returned when binding a parameter
// Value that is not one of the supported variants (int64, float64,
// string, []byte, or null).
var ErrUnsupportedParameterType = errors.New("query: unsupported parameter type")

// ErrSQLite wraps a non-OK result from SQLite open, prepare, bind, or
// step; errors from finalize are swallowed and never reported. The
// wrapped error's message is SQLite's own error string, per spec.md §7.
var ErrSQLite = errors.New("query: sqlite error")
