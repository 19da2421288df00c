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

// Package query implements the connection & statement manager and the
// query API façade described in spec.md §4.4 and §4.5: opening a
// session against an S3-backed SQLite image, preparing and stepping
// single- and multi-statement SQL text, and tearing every resource down
// in the order spec.md §9 requires (statements, then connection, then
// VFS, then HTTP client).
package query

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sneller-labs/s3sql/aws"
	"github.com/sneller-labs/s3sql/aws/s3"
	"github.com/sneller-labs/s3sql/vfs"
)

// token is an opaque statement identity, handed out fresh for every
// prepared statement. Using a monotonic counter instead of the driver's
// own handle avoids the handle-reuse collision spec.md §9 calls out:
// a finalized statement's handle may be reused by a later prepare, but
// its token never is.
type token uint64

type preparedStmt struct {
	stmt *sql.Stmt
	rows *sql.Rows
}

// Session is one open connection to an S3-backed SQLite image, per
// spec.md §4.5's session composition: HTTP client, VFS, and connection
// are each scoped to the session's lifetime, outermost to innermost.
type Session struct {
	fetcher *s3.Fetcher
	vfsSess *vfs.Session

	db   *sql.DB
	conn *sql.Conn

	mu      sync.Mutex
	stmts   map[token]*preparedStmt
	nextTok uint64
	closed  bool
}

// Open constructs the session described in spec.md §4.5: an HTTP
// client (client may be nil to use s3.DefaultClient), a VFS bound to
// one pinned object version (via a signed HEAD), and a read-only
// connection opened against that VFS.
func Open(ctx context.Context, rawURL string, creds aws.Provider, client *http.Client) (*Session, error) {
	fetcher, err := s3.NewFetcher(rawURL, creds, client)
	if err != nil {
		return nil, err
	}

	vfsSess, _, err := vfs.Open(fetcher)
	if err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:/%s?vfs=%s&mode=ro&_mutex=no&immutable=1", vfsSess.File, vfsSess.Name)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		vfsSess.Close()
		return nil, fmt.Errorf("%w: open: %s", ErrSQLite, err)
	}
	// Exactly one connection: spec.md §5 specifies a single-threaded,
	// cooperative session, and a second pooled connection would open
	// a second independent SQLite connection object against the same
	// VFS registration, which is not the intended sharing model.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		vfsSess.Close()
		return nil, fmt.Errorf("%w: open: %s", ErrSQLite, err)
	}

	return &Session{
		fetcher: fetcher,
		vfsSess: vfsSess,
		db:      db,
		conn:    conn,
		stmts:   make(map[token]*preparedStmt),
	}, nil
}

// Close finalizes every statement still registered (in arbitrary
// order, per spec.md §4.4's scope-exit finalization), closes the
// connection, unregisters the VFS, and releases the HTTP client's idle
// connections -- the strict teardown order spec.md §9 requires.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	toks := make([]token, 0, len(s.stmts))
	for t := range s.stmts {
		toks = append(toks, t)
	}
	s.mu.Unlock()

	for _, t := range toks {
		s.finalize(t)
	}

	err := s.conn.Close()
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	s.vfsSess.Close()
	if s.fetcher.Client != nil {
		s.fetcher.Client.CloseIdleConnections()
	}
	return err
}

// Query is the single-statement convenience façade of spec.md §4.5: it
// prepares the first statement in sqlText and returns its columns and a
// RowCursor over its rows. The caller must call the returned cursor's
// Finalize when done with it.
func (s *Session) Query(ctx context.Context, sqlText string, params []Value, named []NamedParam) ([]string, *RowCursor, error) {
	texts := splitStatements(sqlText)
	if len(texts) == 0 {
		return nil, nil, fmt.Errorf("%w: empty statement text", ErrSQLite)
	}
	return s.prepareAndRun(ctx, texts[0], params, named)
}

// QueryMulti is the multi-statement façade of spec.md §4.5: it splits
// sqlText at top-level statement boundaries and returns a MultiCursor
// that lazily prepares and runs each one in turn. params and named are
// aligned to the statement sequence; missing trailing entries default
// to empty, per spec.md §4.5.
func (s *Session) QueryMulti(ctx context.Context, sqlText string, params [][]Value, named [][]NamedParam) (*MultiCursor, error) {
	texts := splitStatements(sqlText)
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: empty statement text", ErrSQLite)
	}
	return &MultiCursor{
		ctx:    ctx,
		sess:   s,
		texts:  texts,
		params: params,
		named:  named,
	}, nil
}

func (s *Session) prepareAndRun(ctx context.Context, text string, params []Value, named []NamedParam) ([]string, *RowCursor, error) {
	stmt, err := s.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: prepare: %s", ErrSQLite, err)
	}

	args, err := buildArgs(params, named)
	if err != nil {
		stmt.Close()
		return nil, nil, err
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		stmt.Close()
		return nil, nil, fmt.Errorf("%w: step: %s", ErrSQLite, err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		stmt.Close()
		return nil, nil, fmt.Errorf("%w: columns: %s", ErrSQLite, err)
	}

	s.mu.Lock()
	s.nextTok++
	tok := token(s.nextTok)
	s.stmts[tok] = &preparedStmt{stmt: stmt, rows: rows}
	s.mu.Unlock()

	return cols, &RowCursor{sess: s, tok: tok, cols: cols}, nil
}

// finalize implements spec.md §4.4's Finalize: it is idempotent, and
// errors from the underlying SQLite finalize call are swallowed, since
// they almost always just restate an error already surfaced to the
// caller on a prior step.
func (s *Session) finalize(t token) {
	s.mu.Lock()
	st, ok := s.stmts[t]
	if ok {
		delete(s.stmts, t)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	st.rows.Close()
	st.stmt.Close()
}

func buildArgs(params []Value, named []NamedParam) ([]any, error) {
	args := make([]any, 0, len(params)+len(named))
	for _, p := range params {
		a, err := p.driverArg()
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	for _, n := range named {
		a, err := n.Value.driverArg()
		if err != nil {
			return nil, err
		}
		name := strings.TrimLeft(n.Name, ":@$")
		args = append(args, sql.Named(name, a))
	}
	return args, nil
}

func paramsAt(all [][]Value, i int) []Value {
	if i < len(all) {
		return all[i]
	}
	return nil
}

func namedAt(all [][]NamedParam, i int) []NamedParam {
	if i < len(all) {
		return all[i]
	}
	return nil
}
