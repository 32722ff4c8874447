// Package memdb is a transactional in-memory store for development and
// tests. A transaction works on a private copy of the state and replaces the
// committed state only when its closure succeeds.
package memdb

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const (
	TablePatient   = "patient"
	TableAdmission = "admission"
	TableTreatment = "treatment_record"
)

// SoftDeletable is implemented by records carrying a deleted_at marker.
type SoftDeletable interface {
	IsDeleted() bool
}

type state struct {
	tables map[string]map[uuid.UUID]interface{}
	seqs   map[string]int
}

func newState() *state {
	return &state{
		tables: make(map[string]map[uuid.UUID]interface{}),
		seqs:   make(map[string]int),
	}
}

// clone copies the maps. Stored values are never mutated in place, so
// sharing them between copies is safe.
func (s *state) clone() *state {
	c := newState()
	for name, rows := range s.tables {
		cp := make(map[uuid.UUID]interface{}, len(rows))
		for id, v := range rows {
			cp[id] = v
		}
		c.tables[name] = cp
	}
	for k, v := range s.seqs {
		c.seqs[k] = v
	}
	return c
}

func (s *state) table(name string) map[uuid.UUID]interface{} {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[uuid.UUID]interface{})
		s.tables[name] = t
	}
	return t
}

type DB struct {
	mu    sync.RWMutex
	state *state
}

func New() *DB {
	return &DB{state: newState()}
}

type txKey struct{}

type tx struct {
	db    *DB
	state *state
}

func (d *DB) txFrom(ctx context.Context) *tx {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.db != d {
		return nil
	}
	return t
}

// InTx runs fn atomically. Transactions are fully serialized; a nested call
// joins the outer transaction.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.txFrom(ctx) != nil {
		return fn(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	t := &tx{db: d, state: d.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	d.state = t.state
	return nil
}

// InTransaction reports whether ctx carries a transaction of d.
func (d *DB) InTransaction(ctx context.Context) bool {
	return d.txFrom(ctx) != nil
}

// Ping always succeeds.
func (d *DB) Ping(context.Context) error { return nil }

func (d *DB) read(ctx context.Context, fn func(s *state)) {
	if t := d.txFrom(ctx); t != nil {
		fn(t.state)
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.state)
}

func (d *DB) write(ctx context.Context, fn func(s *state)) {
	if t := d.txFrom(ctx); t != nil {
		fn(t.state)
		return
	}
	_ = d.InTx(ctx, func(ctx context.Context) error {
		fn(d.txFrom(ctx).state)
		return nil
	})
}

// Lookup returns the raw record stored under id.
func (d *DB) Lookup(ctx context.Context, table string, id uuid.UUID) (interface{}, bool) {
	var (
		v  interface{}
		ok bool
	)
	d.read(ctx, func(s *state) {
		v, ok = s.tables[table][id]
	})
	return v, ok
}

// Live reports whether id exists in table and is not soft-deleted.
func (d *DB) Live(ctx context.Context, table string, id uuid.UUID) bool {
	v, ok := d.Lookup(ctx, table, id)
	if !ok {
		return false
	}
	if sd, ok := v.(SoftDeletable); ok && sd.IsDeleted() {
		return false
	}
	return true
}

// NextSeq increments and returns the named counter.
func (d *DB) NextSeq(ctx context.Context, name string) int {
	var n int
	d.write(ctx, func(s *state) {
		s.seqs[name]++
		n = s.seqs[name]
	})
	return n
}

// Table is a typed view over one table. Values are cloned on the way in and
// out so callers never alias stored state.
type Table[T any] struct {
	db    *DB
	name  string
	clone func(T) T
}

func NewTable[T any](db *DB, name string, clone func(T) T) *Table[T] {
	return &Table[T]{db: db, name: name, clone: clone}
}

func (t *Table[T]) Get(ctx context.Context, id uuid.UUID) (T, bool) {
	var zero T
	v, ok := t.db.Lookup(ctx, t.name, id)
	if !ok {
		return zero, false
	}
	return t.clone(v.(T)), true
}

func (t *Table[T]) Put(ctx context.Context, id uuid.UUID, v T) {
	stored := t.clone(v)
	t.db.write(ctx, func(s *state) {
		s.table(t.name)[id] = stored
	})
}

// Filter returns clones of every row keep accepts, in no particular order.
func (t *Table[T]) Filter(ctx context.Context, keep func(T) bool) []T {
	var out []T
	t.db.read(ctx, func(s *state) {
		for _, v := range s.tables[t.name] {
			row := v.(T)
			if keep(row) {
				out = append(out, t.clone(row))
			}
		}
	})
	return out
}
