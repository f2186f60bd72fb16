// Package store wraps goleveldb to give every consensus component (btcspv,
// btcheaders, burnclaim, settlement, htlc) a persisted key/value namespace
// and a Batch that commits atomically within one component's DB. There is
// no atomic commit across components' DBs: a block's writes to different
// components are separate commits (see MultiBatch). The teacher repo's own
// `database` package (referenced from blockchain/indexers/types.go) wraps
// the same leveldb leaf dependency but was not included in the retrieved
// pack, so this wrapper is written directly against
// github.com/syndtr/goleveldb, the teacher's go.mod dependency.
package store

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrFatal wraps unrecoverable storage I/O errors (spec.md §7): these
// abort the in-flight block commit rather than surfacing as a consensus
// rejection.
var ErrFatal = errors.New("store: fatal storage error")

// DB is a single leveldb-backed namespace (one per component: btcspv/,
// btcheadersdb/, settlement/, htlc/ per spec.md §6.4).
type DB struct {
	ldb  *leveldb.DB
	path string
}

// Open opens (creating if necessary) a leveldb database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrFatal, path, err)
	}
	return &DB{ldb: ldb, path: path}, nil
}

// Close closes the underlying leveldb handle.
func (d *DB) Close() error {
	return d.ldb.Close()
}

// Get fetches a single key. Returns (nil, false, nil) on miss.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	v, err := d.ldb.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get: %v", ErrFatal, err)
	}
	return v, true, nil
}

// Has reports whether key is present.
func (d *DB) Has(key []byte) (bool, error) {
	ok, err := d.ldb.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("%w: has: %v", ErrFatal, err)
	}
	return ok, nil
}

// Put writes a single key/value pair outside of a batch (used for
// best-effort, non-consensus-critical writes such as cache warm-up).
func (d *DB) Put(key, value []byte) error {
	if err := d.ldb.Put(key, value, nil); err != nil {
		return fmt.Errorf("%w: put: %v", ErrFatal, err)
	}
	return nil
}

// Iterate calls fn for every key with the given prefix, stopping early if
// fn returns false. Used by the HTLC hashlock index prefix scans (spec.md
// §4.5.6).
func (d *DB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := d.ldb.NewIterator(rangeFromPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("%w: iterate: %v", ErrFatal, err)
	}
	return nil
}

// NewBatch returns a staged batch of writes against this DB.
func (d *DB) NewBatch() *Batch {
	return &Batch{db: d, b: new(leveldb.Batch)}
}

// Batch stages Put/Delete operations to be committed atomically.
type Batch struct {
	db *DB
	b  *leveldb.Batch
}

// Put stages a write.
func (b *Batch) Put(key, value []byte) { b.b.Put(key, value) }

// Delete stages a deletion.
func (b *Batch) Delete(key []byte) { b.b.Delete(key) }

// Len returns the number of staged operations.
func (b *Batch) Len() int { return b.b.Len() }

// Commit applies every staged write atomically.
func (b *Batch) Commit() error {
	if err := b.db.ldb.Write(b.b, nil); err != nil {
		return fmt.Errorf("%w: commit batch: %v", ErrFatal, err)
	}
	return nil
}

// MultiBatch commits several component batches one after another and
// returns the first error. Each underlying DB is physically distinct (a
// single-WAL cross-database transaction is not available from goleveldb),
// so the batches are not atomic as a group: when a later commit fails, the
// earlier ones stay committed.
func MultiBatch(batches ...*Batch) error {
	for i, b := range batches {
		if b == nil {
			continue
		}
		if err := b.Commit(); err != nil {
			return fmt.Errorf("commit batch %d/%d: %w", i+1, len(batches), err)
		}
	}
	return nil
}
