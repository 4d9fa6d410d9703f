// Package firestore implements docstore.Store on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

type Store struct {
	client *firestore.Client
	log    *logger.Logger
}

var _ docstore.Store = (*Store)(nil)

// New opens a client for the given project and database ("" means "(default)").
func New(ctx context.Context, log *logger.Logger, projectID, database string, opts ...option.ClientOption) (*Store, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("firestore: project id required")
	}
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: new client: %w", err)
	}
	if log != nil {
		log = log.With("component", "firestore", "database", database)
	}
	return &Store{client: client, log: log}, nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	ref := s.client.Doc(strings.Trim(path, "/"))
	if ref == nil {
		return nil, fmt.Errorf("firestore: invalid document path %q", path)
	}
	return ref, nil
}

func (s *Store) collection(path string) (*firestore.CollectionRef, error) {
	ref := s.client.Collection(strings.Trim(path, "/"))
	if ref == nil {
		return nil, fmt.Errorf("firestore: invalid collection path %q", path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Snapshot, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	return toSnapshot(path, snap, err)
}

func (s *Store) List(ctx context.Context, collectionPath string) ([]*docstore.Snapshot, error) {
	coll, err := s.collection(collectionPath)
	if err != nil {
		return nil, err
	}
	it := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer it.Stop()
	out := make([]*docstore.Snapshot, 0)
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore: list %s: %w", collectionPath, err)
		}
		out = append(out, fromDoc(snap))
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, collectionPath string) (int, error) {
	coll, err := s.collection(collectionPath)
	if err != nil {
		return 0, err
	}
	res, err := coll.NewAggregationQuery().WithCount("all").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("firestore: count %s: %w", collectionPath, err)
	}
	v, ok := res["all"].(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("firestore: count %s: unexpected result %T", collectionPath, res["all"])
	}
	return int(v.GetIntegerValue()), nil
}

func (s *Store) Create(ctx context.Context, path string, data map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, encode(data))
	return mapErr(path, err)
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]any) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates(fields))
	return mapErr(path, err)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return mapErr(path, err)
}

func (s *Store) NewID(collectionPath string) string {
	coll, err := s.collection(collectionPath)
	if err != nil {
		return ""
	}
	return coll.NewDoc().ID
}

func (s *Store) Batch() docstore.Batch { return &batch{store: s} }

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &transaction{store: s, tx: ftx})
	})
	if err != nil && s.log != nil {
		s.log.Debug("transaction failed", "error", err)
	}
	return mapErr("", err)
}

type transaction struct {
	store *Store
	tx    *firestore.Transaction
	wrote int
}

func (t *transaction) Get(path string) (*docstore.Snapshot, error) {
	ref, err := t.store.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	return toSnapshot(path, snap, err)
}

func (t *transaction) Set(path string, data map[string]any, merge bool) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	if err := t.count(); err != nil {
		return err
	}
	if merge {
		return t.tx.Set(ref, encode(data), firestore.MergeAll)
	}
	return t.tx.Set(ref, encode(data))
}

func (t *transaction) Update(path string, fields map[string]any) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	if err := t.count(); err != nil {
		return err
	}
	return t.tx.Update(ref, updates(fields))
}

func (t *transaction) Delete(path string) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	if err := t.count(); err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

func (t *transaction) count() error {
	t.wrote++
	if t.wrote > docstore.MaxBatchSize {
		return docstore.ErrBatchTooLarge
	}
	return nil
}

// batch buffers writes and commits them in a single write-only transaction, which gives the
// same all-or-nothing commit as a WriteBatch.
type batch struct {
	store *Store
	ops   []batchOp
}

type batchOp struct {
	kind  string
	path  string
	data  map[string]any
	merge bool
}

func (b *batch) Set(path string, data map[string]any, merge bool) {
	b.ops = append(b.ops, batchOp{kind: "set", path: path, data: data, merge: merge})
}

func (b *batch) Update(path string, fields map[string]any) {
	b.ops = append(b.ops, batchOp{kind: "update", path: path, data: fields})
}

func (b *batch) Delete(path string) {
	b.ops = append(b.ops, batchOp{kind: "delete", path: path})
}

func (b *batch) Len() int { return len(b.ops) }

func (b *batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	if len(b.ops) > docstore.MaxBatchSize {
		return fmt.Errorf("%w: %d ops", docstore.ErrBatchTooLarge, len(b.ops))
	}
	return b.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		for _, o := range b.ops {
			var err error
			switch o.kind {
			case "set":
				err = tx.Set(o.path, o.data, o.merge)
			case "update":
				err = tx.Update(o.path, o.data)
			default:
				err = tx.Delete(o.path)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func toSnapshot(path string, snap *firestore.DocumentSnapshot, err error) (*docstore.Snapshot, error) {
	if status.Code(err) == codes.NotFound {
		return &docstore.Snapshot{Path: strings.Trim(path, "/"), ID: docstore.ID(path)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("firestore: get %s: %w", path, err)
	}
	return fromDoc(snap), nil
}

func fromDoc(snap *firestore.DocumentSnapshot) *docstore.Snapshot {
	out := &docstore.Snapshot{
		Path:   relPath(snap.Ref.Path),
		ID:     snap.Ref.ID,
		Exists: snap.Exists(),
	}
	if out.Exists {
		out.Data = snap.Data()
		out.CreateTime = snap.CreateTime
		out.UpdateTime = snap.UpdateTime
	}
	return out
}

// relPath strips "projects/<p>/databases/<d>/documents/".
func relPath(full string) string {
	if i := strings.Index(full, "/documents/"); i >= 0 {
		return full[i+len("/documents/"):]
	}
	return full
}

func mapErr(path string, err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", docstore.ErrNotFound, path)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
	}
	return err
}

func updates(fields map[string]any) []firestore.Update {
	out := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		out = append(out, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: encodeValue(v)})
	}
	return out
}

func encode(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = encodeValue(v)
	}
	return out
}

func encodeValue(v any) any {
	if docstore.IsServerTimestamp(v) {
		return firestore.ServerTimestamp
	}
	if m, ok := v.(map[string]any); ok {
		return encode(m)
	}
	return v
}
