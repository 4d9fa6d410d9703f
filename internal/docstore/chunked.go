package docstore

import (
	"context"
	"fmt"
)

// ChunkedWriter spreads an unbounded number of writes over batches of at most Max ops,
// committing each one as it fills and the remainder on Flush. Atomicity holds per chunk only.
type ChunkedWriter struct {
	store     Store
	batch     Batch
	max       int
	committed int
	commits   int
}

func NewChunkedWriter(store Store) *ChunkedWriter {
	return NewChunkedWriterSize(store, MaxBatchSize)
}

func NewChunkedWriterSize(store Store, max int) *ChunkedWriter {
	if max <= 0 || max > MaxBatchSize {
		max = MaxBatchSize
	}
	return &ChunkedWriter{store: store, max: max}
}

func (w *ChunkedWriter) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	w.current().Set(path, data, merge)
	return w.maybeCommit(ctx)
}

func (w *ChunkedWriter) Update(ctx context.Context, path string, fields map[string]any) error {
	w.current().Update(path, fields)
	return w.maybeCommit(ctx)
}

func (w *ChunkedWriter) Delete(ctx context.Context, path string) error {
	w.current().Delete(path)
	return w.maybeCommit(ctx)
}

// Flush commits whatever is pending.
func (w *ChunkedWriter) Flush(ctx context.Context) error {
	if w.batch == nil || w.batch.Len() == 0 {
		return nil
	}
	return w.commit(ctx)
}

// Committed is the number of ops applied so far.
func (w *ChunkedWriter) Committed() int { return w.committed }

// Commits is the number of batches committed so far.
func (w *ChunkedWriter) Commits() int { return w.commits }

func (w *ChunkedWriter) current() Batch {
	if w.batch == nil {
		w.batch = w.store.Batch()
	}
	return w.batch
}

func (w *ChunkedWriter) maybeCommit(ctx context.Context) error {
	if w.batch.Len() < w.max {
		return nil
	}
	return w.commit(ctx)
}

func (w *ChunkedWriter) commit(ctx context.Context) error {
	n := w.batch.Len()
	if err := w.batch.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch of %d (after %d committed): %w", n, w.committed, err)
	}
	w.committed += n
	w.commits++
	w.batch = nil
	return nil
}
