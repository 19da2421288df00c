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
	"context"
	"fmt"
)

// RowCursor is a finite, single-pass lazy sequence of rows from one
// prepared statement, per spec.md §9's "lazy row sequences" design
// note. It is not restartable, and becomes invalid once its owning
// statement is finalized.
type RowCursor struct {
	sess *Session
	tok  token
	cols []string
}

// Columns returns the column names captured immediately after
// preparation, per spec.md §4.4.
func (r *RowCursor) Columns() []string { return r.cols }

// Next advances the cursor and returns the next row, or ok == false
// once the statement is exhausted. Reading from a cursor whose
// statement has already been finalized returns ErrFinalizedStatement,
// per spec.md §4.4's use-after-finalize rule -- the statement's
// identity token, not its raw handle, is what's checked.
func (r *RowCursor) Next(ctx context.Context) (row []Value, ok bool, err error) {
	r.sess.mu.Lock()
	st, present := r.sess.stmts[r.tok]
	r.sess.mu.Unlock()
	if !present {
		return nil, false, ErrFinalizedStatement
	}

	if !st.rows.Next() {
		if err := st.rows.Err(); err != nil {
			return nil, false, fmt.Errorf("%w: step: %s", ErrSQLite, err)
		}
		return nil, false, nil
	}

	dest := make([]any, len(r.cols))
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := st.rows.Scan(ptrs...); err != nil {
		return nil, false, fmt.Errorf("%w: step: %s", ErrSQLite, err)
	}

	row = make([]Value, len(dest))
	for i, d := range dest {
		row[i] = valueFromColumn(d)
	}
	return row, true, nil
}

// Finalize releases the cursor's statement, per spec.md §4.4. It is
// idempotent and safe to call more than once.
func (r *RowCursor) Finalize() {
	r.sess.finalize(r.tok)
}

// MultiCursor is the lazy sequence of (columns, RowCursor) pairs
// spec.md §4.5's query_multi produces, one per top-level statement in
// the original SQL text.
type MultiCursor struct {
	ctx    context.Context
	sess   *Session
	texts  []string
	params [][]Value
	named  [][]NamedParam

	idx int
	cur *RowCursor
	err error
}

// Next finalizes the previous statement (if any) and prepares and runs
// the next one, returning false once every statement has been
// consumed or a prepare/bind/step failure occurs (see Err).
func (m *MultiCursor) Next() bool {
	if m.cur != nil {
		m.cur.Finalize()
		m.cur = nil
	}
	if m.err != nil || m.idx >= len(m.texts) {
		return false
	}

	i := m.idx
	m.idx++
	_, cur, err := m.sess.prepareAndRun(m.ctx, m.texts[i], paramsAt(m.params, i), namedAt(m.named, i))
	if err != nil {
		m.err = err
		return false
	}
	m.cur = cur
	return true
}

// Columns returns the current statement's column names.
func (m *MultiCursor) Columns() []string {
	if m.cur == nil {
		return nil
	}
	return m.cur.Columns()
}

// Rows returns the current statement's RowCursor.
func (m *MultiCursor) Rows() *RowCursor { return m.cur }

// Err returns the first prepare/bind/step error encountered, if any.
func (m *MultiCursor) Err() error { return m.err }
