package writer

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches. Every statement affects one row unless its index
// is listed in conflicts.
type fakeDB struct {
	mu        sync.Mutex
	batches   [][]*pgx.QueuedQuery
	conflicts map[int]bool
	err       error
}

func (f *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, b.QueuedQueries)
	return &fakeResults{conflicts: f.conflicts, err: f.err}
}

func (f *fakeDB) rows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []*pgx.QueuedQuery
	for _, b := range f.batches {
		all = append(all, b...)
	}
	return all
}

type fakeResults struct {
	n         int
	conflicts map[int]bool
	err       error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	i := r.n
	r.n++
	if r.conflicts[i] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }

func (r *fakeResults) QueryRow() pgx.Row { return nil }

func (r *fakeResults) Close() error { return nil }
