// Package memstore is an in-process docstore.Store with a change feed. It backs the local
// runtime and the tests; writes are atomic per batch/transaction and subscribers observe
// created/updated/deleted changes with before/after snapshots, the way Firestore triggers do.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
)

type ChangeKind string

const (
	Created ChangeKind = "created"
	Updated ChangeKind = "updated"
	Deleted ChangeKind = "deleted"
)

// Change is one document write as a trigger would see it.
type Change struct {
	ID     string
	Kind   ChangeKind
	Path   string
	Before *docstore.Snapshot
	After  *docstore.Snapshot
}

// Fault lets tests fail a write; op is "create", "update", "delete", "commit" or "tx".
type Fault func(op, path string) error

type doc struct {
	data    map[string]any
	created time.Time
	updated time.Time
}

type Store struct {
	mu    sync.Mutex
	docs  map[string]*doc
	now   func() time.Time
	fault Fault

	subMu sync.RWMutex
	subs  []func(Change)
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs: make(map[string]*doc),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the commit-time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// SetFault installs (or clears, with nil) a write fault hook.
func (s *Store) SetFault(f Fault) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Subscribe registers fn for every committed change. fn runs on the writer's goroutine
// after the store lock is released.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(path), nil
}

func (s *Store) List(ctx context.Context, collectionPath string) ([]*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collectionPath = clean(collectionPath)
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := s.childrenLocked(collectionPath)
	out := make([]*docstore.Snapshot, 0, len(paths))
	for _, p := range paths {
		out = append(out, s.snapshotLocked(p))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, collectionPath string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.childrenLocked(clean(collectionPath))), nil
}

func (s *Store) Create(ctx context.Context, path string, data map[string]any) error {
	b := s.newBatch()
	b.create(path, data)
	return b.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	b := s.newBatch()
	b.Update(path, fields)
	return b.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	b := s.newBatch()
	b.Delete(path)
	return b.Commit(ctx)
}

func (s *Store) Batch() docstore.Batch { return s.newBatch() }

func (s *Store) NewID(string) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.fault != nil {
		if err := s.fault("tx", ""); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	tx := &transaction{store: s}
	if err := fn(ctx, tx); err != nil {
		s.mu.Unlock()
		return err
	}
	changes, err := s.applyLocked(tx.ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(changes)
	return nil
}

// Paths returns every stored document path, sorted. Test helper.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.docs))
	for p := range s.docs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ---- internals ----

type opKind int

const (
	opCreate opKind = iota
	opSet
	opMerge
	opUpdate
	opDelete
)

type op struct {
	kind opKind
	path string
	data map[string]any
}

type batch struct {
	store *Store
	ops   []op
	done  bool
}

func (s *Store) newBatch() *batch { return &batch{store: s} }

func (b *batch) create(path string, data map[string]any) {
	b.ops = append(b.ops, op{kind: opCreate, path: clean(path), data: deepCopy(data)})
}

func (b *batch) Set(path string, data map[string]any, merge bool) {
	k := opSet
	if merge {
		k = opMerge
	}
	b.ops = append(b.ops, op{kind: k, path: clean(path), data: deepCopy(data)})
}

func (b *batch) Update(path string, fields map[string]any) {
	b.ops = append(b.ops, op{kind: opUpdate, path: clean(path), data: deepCopy(fields)})
}

func (b *batch) Delete(path string) {
	b.ops = append(b.ops, op{kind: opDelete, path: clean(path)})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.done {
		return errors.New("memstore: batch already committed")
	}
	if len(b.ops) > docstore.MaxBatchSize {
		return fmt.Errorf("%w: %d ops", docstore.ErrBatchTooLarge, len(b.ops))
	}
	s := b.store
	s.mu.Lock()
	if s.fault != nil {
		for _, o := range b.ops {
			if err := s.fault(o.kind.String(), o.path); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		if err := s.fault("commit", ""); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	changes, err := s.applyLocked(b.ops)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	b.done = true
	s.publish(changes)
	return nil
}

func (k opKind) String() string {
	switch k {
	case opCreate:
		return "create"
	case opDelete:
		return "delete"
	default:
		return "update"
	}
}

type transaction struct {
	store *Store
	ops   []op
}

func (t *transaction) Get(path string) (*docstore.Snapshot, error) {
	if len(t.ops) > 0 {
		return nil, errors.New("memstore: transaction reads must precede writes")
	}
	return t.store.snapshotLocked(clean(path)), nil
}

func (t *transaction) Set(path string, data map[string]any, merge bool) error {
	k := opSet
	if merge {
		k = opMerge
	}
	t.ops = append(t.ops, op{kind: k, path: clean(path), data: deepCopy(data)})
	return t.checkSize()
}

func (t *transaction) Update(path string, fields map[string]any) error {
	t.ops = append(t.ops, op{kind: opUpdate, path: clean(path), data: deepCopy(fields)})
	return t.checkSize()
}

func (t *transaction) Delete(path string) error {
	t.ops = append(t.ops, op{kind: opDelete, path: clean(path)})
	return t.checkSize()
}

func (t *transaction) checkSize() error {
	if len(t.ops) > docstore.MaxBatchSize {
		return docstore.ErrBatchTooLarge
	}
	return nil
}

// applyLocked validates every op against a working copy, then swaps it in, so a failing
// op leaves the store untouched.
func (s *Store) applyLocked(ops []op) ([]Change, error) {
	now := s.now()
	work := make(map[string]*doc, len(ops))
	before := make(map[string]*docstore.Snapshot, len(ops))
	order := make([]string, 0, len(ops))

	lookup := func(p string) *doc {
		if d, ok := work[p]; ok {
			return d
		}
		if _, seen := before[p]; !seen {
			before[p] = s.snapshotLocked(p)
			order = append(order, p)
		}
		if d, ok := s.docs[p]; ok {
			cp := &doc{data: deepCopy(d.data), created: d.created, updated: d.updated}
			work[p] = cp
			return cp
		}
		work[p] = nil
		return nil
	}

	for _, o := range ops {
		cur := lookup(o.path)
		switch o.kind {
		case opCreate:
			if cur != nil {
				return nil, fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, o.path)
			}
			work[o.path] = &doc{data: resolve(o.data, now), created: now, updated: now}
		case opSet:
			created := now
			if cur != nil {
				created = cur.created
			}
			work[o.path] = &doc{data: resolve(o.data, now), created: created, updated: now}
		case opMerge:
			if cur == nil {
				work[o.path] = &doc{data: resolve(o.data, now), created: now, updated: now}
				continue
			}
			mergeInto(cur.data, resolve(o.data, now))
			cur.updated = now
		case opUpdate:
			if cur == nil {
				return nil, fmt.Errorf("%w: %s", docstore.ErrNotFound, o.path)
			}
			for k, v := range resolve(o.data, now) {
				cur.data[k] = v
			}
			cur.updated = now
		case opDelete:
			work[o.path] = nil
		}
	}

	changes := make([]Change, 0, len(order))
	for _, p := range order {
		d := work[p]
		prev := before[p]
		switch {
		case d == nil && prev.Exists:
			delete(s.docs, p)
			changes = append(changes, Change{ID: uuid.NewString(), Kind: Deleted, Path: p, Before: prev, After: missing(p)})
		case d == nil:
			// delete of a missing doc: no-op
		default:
			s.docs[p] = d
			kind := Updated
			if !prev.Exists {
				kind = Created
			}
			changes = append(changes, Change{ID: uuid.NewString(), Kind: kind, Path: p, Before: prev, After: s.snapshotLocked(p)})
		}
	}
	return changes, nil
}

func (s *Store) publish(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.RLock()
	subs := append([]func(Change){}, s.subs...)
	s.subMu.RUnlock()
	for _, c := range changes {
		for _, fn := range subs {
			fn(c)
		}
	}
}

func (s *Store) snapshotLocked(path string) *docstore.Snapshot {
	d, ok := s.docs[path]
	if !ok {
		return missing(path)
	}
	return &docstore.Snapshot{
		Path:       path,
		ID:         docstore.ID(path),
		Exists:     true,
		Data:       deepCopy(d.data),
		CreateTime: d.created,
		UpdateTime: d.updated,
	}
}

func (s *Store) childrenLocked(collectionPath string) []string {
	prefix := collectionPath + "/"
	out := make([]string, 0)
	for p := range s.docs {
		if strings.HasPrefix(p, prefix) && !strings.Contains(p[len(prefix):], "/") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func missing(path string) *docstore.Snapshot {
	return &docstore.Snapshot{Path: path, ID: docstore.ID(path)}
}

func clean(path string) string { return strings.Trim(path, "/") }

func resolve(data map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case map[string]any:
			out[k] = resolve(t, now)
		default:
			if docstore.IsServerTimestamp(v) {
				out[k] = now
			} else {
				out[k] = v
			}
		}
	}
	return out
}

// mergeInto applies src onto dst recursively for nested maps (Firestore MergeAll).
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeInto(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = copyValue(t[i])
		}
		return cp
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
