// Package docstore is the document-store surface the pipeline stages run on: documents
// addressed by slash paths, atomic batches bounded at MaxBatchSize, and read-modify-write
// transactions. Implementations live in docstore/firestore and docstore/memstore.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxBatchSize is the platform limit on writes per batch or transaction.
const MaxBatchSize = 500

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrBatchTooLarge = errors.New("docstore: batch exceeds max size")
)

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's commit time when written.
var ServerTimestamp any = serverTimestamp{}

func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Snapshot is a point-in-time read of one document. A missing document is reported with
// Exists=false rather than an error.
type Snapshot struct {
	Path       string
	ID         string
	Exists     bool
	Data       map[string]any
	CreateTime time.Time
	UpdateTime time.Time
}

// Field returns Data[key] or nil on a missing snapshot.
func (s *Snapshot) Field(key string) any {
	if s == nil || s.Data == nil {
		return nil
	}
	return s.Data[key]
}

type Store interface {
	Get(ctx context.Context, path string) (*Snapshot, error)
	// List returns every document directly under collectionPath, ordered by id.
	List(ctx context.Context, collectionPath string) ([]*Snapshot, error)
	Count(ctx context.Context, collectionPath string) (int, error)
	Create(ctx context.Context, path string, data map[string]any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Delete(ctx context.Context, path string) error
	Batch() Batch
	// RunTransaction runs fn with serializable isolation. fn may be re-run on contention
	// and must only touch the store through tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	NewID(collectionPath string) string
}

// Batch accumulates writes and applies them atomically on Commit.
type Batch interface {
	Set(path string, data map[string]any, merge bool)
	Update(path string, fields map[string]any)
	Delete(path string)
	Len() int
	Commit(ctx context.Context) error
}

// Tx is the handle passed to RunTransaction. All reads must happen before the first write.
type Tx interface {
	Get(path string) (*Snapshot, error)
	Set(path string, data map[string]any, merge bool) error
	Update(path string, fields map[string]any) error
	Delete(path string) error
}

// Parent returns the collection path of a document path.
func Parent(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}

// ID returns the last segment of a path.
func ID(path string) string {
	path = strings.Trim(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
