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

// Package vfs implements the S3-backed SQLite VFS described in spec.md
// §4.3: a read-only, immutable virtual file whose bytes are served by a
// single pinned S3 object version, page by page, over signed ranged
// GETs.
package vfs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/psanford/sqlite3vfs"

	"github.com/sneller-labs/s3sql/aws/s3"
)

// ErrReadOnly is returned by every mutating File method. The VFS this
// package registers is only ever opened SQLITE_OPEN_READONLY, so none
// of these should be reachable in practice; they exist to satisfy
// sqlite3vfs.File and to fail loudly rather than silently if they ever
// are.
var ErrReadOnly = errors.New("vfs: s3-backed database is read-only")

// Session pins a registered VFS and its backing logical filename to one
// open SQLite connection. Name is what callers pass as the SQLite VFS
// name when opening a connection; File is the logical (not real)
// filename to open against it.
type Session struct {
	Name string
	File string

	registered bool
}

// Open performs the HEAD described in spec.md §4.2 through fetcher,
// binds the session to the reported object version, and registers a
// uniquely-named VFS backed by it. Both names are generated from a
// fresh UUID, per spec.md §4.3's unique-name invariant; the caller must
// call Close to unregister the VFS, even on an error path past this
// call returning successfully.
func Open(fetcher *s3.Fetcher) (*Session, *s3.ObjectBinding, error) {
	binding, err := fetcher.Open()
	if err != nil {
		return nil, nil, err
	}

	name := "s3-" + uuid.New().String()
	file := "s3-" + uuid.New().String()

	v := &vfsImpl{fetcher: fetcher, binding: binding, logicalName: file}
	if err := sqlite3vfs.RegisterVFS(name, v); err != nil {
		return nil, nil, fmt.Errorf("vfs: registering %s: %w", name, err)
	}
	return &Session{Name: name, File: file, registered: true}, binding, nil
}

// Close unregisters the VFS. It is idempotent: calling it more than
// once, or on a zero Session, is a no-op. Per spec.md §5, scope exit
// (including on an error path) must always reach this.
func (s *Session) Close() {
	if s == nil || !s.registered {
		return
	}
	sqlite3vfs.UnregisterVFS(s.Name)
	s.registered = false
}

// vfsImpl is the sqlite3vfs.VFS implementation backing one Session. It
// always serves the same logical filename, so xOpen never needs to
// distinguish between names -- there is exactly one file in this VFS.
type vfsImpl struct {
	fetcher     *s3.Fetcher
	binding     *s3.ObjectBinding
	logicalName string
}

// Open implements sqlite3vfs.VFS's xOpen: it hands back the single
// backing file regardless of which logical name SQLite asks for
// (SQLite only ever asks for the one name this VFS's connection was
// opened with), with the input flags echoed back unchanged.
func (v *vfsImpl) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	return &s3File{fetcher: v.fetcher, binding: v.binding}, flags, nil
}

// Delete always fails: there is nothing to delete, and this VFS never
// backs a journal or WAL file that SQLite would try to remove.
func (v *vfsImpl) Delete(name string, dirSync bool) error {
	return fmt.Errorf("vfs: delete not supported for %s", name)
}

// Access reports every name as absent, per spec.md §4.3's xAccess row:
// SQLite must never believe a journal, WAL, or lock file exists
// alongside the logical database file.
func (v *vfsImpl) Access(name string, flags sqlite3vfs.AccessFlag) (bool, error) {
	return false, nil
}

// FullPathname is the identity function: this VFS's names are already
// logical, not filesystem paths, per spec.md §4.3's xFullPathname row.
func (v *vfsImpl) FullPathname(name string) string {
	return name
}

// s3File is the sqlite3vfs.File SQLite reads pages through. Every
// ReadAt call becomes exactly one signed ranged GET.
type s3File struct {
	fetcher *s3.Fetcher
	binding *s3.ObjectBinding
}

// ReadAt implements xRead: it routes to the fetcher for exactly
// len(p) bytes at off, copies them into p, and fails the whole call --
// mapped by sqlite3vfs to SQLITE_IOERR -- on any discrepancy, including
// a short read past end of file. SQLite never asks this VFS to read
// past what xFileSize reported, so no separate EOF case is needed.
func (f *s3File) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	got, err := f.fetcher.ReadRange(f.binding, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, got)
	return n, nil
}

// WriteAt and Truncate fail: this VFS never backs a writable
// connection (see ErrReadOnly). Sync and Close are no-ops: there is
// nothing buffered to flush and nothing to release beyond what the
// Session itself tears down.
func (f *s3File) WriteAt(p []byte, off int64) (int, error) { return 0, ErrReadOnly }
func (f *s3File) Truncate(size int64) error                { return ErrReadOnly }
func (f *s3File) Sync(flags sqlite3vfs.SyncType) error      { return nil }
func (f *s3File) Close() error                              { return nil }

// FileSize implements xFileSize: the cached object size from the
// session's HEAD.
func (f *s3File) FileSize() (int64, error) {
	return f.binding.Size, nil
}

// Lock and Unlock always succeed: per spec.md §4.3, this is an
// immutable snapshot with no real locking to perform.
func (f *s3File) Lock(elock sqlite3vfs.LockType) error   { return nil }
func (f *s3File) Unlock(elock sqlite3vfs.LockType) error { return nil }
func (f *s3File) CheckReservedLock() (bool, error)       { return false, nil }

// SectorSize reports no special sector alignment requirement.
func (f *s3File) SectorSize() int64 { return 0 }

// DeviceCharacteristics reports the file as immutable, per spec.md
// §4.3's xDeviceCharacteristics row -- this lets SQLite's pager skip
// the change-counter re-reads it would otherwise perform on every
// statement, since the underlying bytes for this session are pinned to
// one S3 object version and cannot change out from under it.
func (f *s3File) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return sqlite3vfs.IocapImmutable
}
