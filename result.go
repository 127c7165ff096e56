package duckling

import (
	"context"
	"sync"
)

// QueryResult is a forward-only stream over the rows of one execution. Rows
// come in engine order, in chunks of at most the configured chunk size.
type QueryResult struct {
	handle    Handle
	cur       cursor
	cols      []Column
	chunkSize int
	fetched   int
	mu        sync.Mutex
}

// newQueryResult registers a result under its owner. The cursor is closed if
// the owner went away while the query ran.
func newQueryResult(owner Handle, cur cursor, chunkSize int) (*QueryResult, error) {
	r := &QueryResult{
		cur:       cur,
		cols:      cur.columns(),
		chunkSize: chunkSize,
	}
	h, err := handles.register(ResultResource, owner, r.teardown)
	if err != nil {
		cur.close()
		return nil, err
	}
	r.handle = h
	return r, nil
}

// Handle returns the opaque handle of the result.
func (r *QueryResult) Handle() Handle {
	return r.handle
}

// ColumnNames returns the result column names in row order.
func (r *QueryResult) ColumnNames() ([]string, error) {
	if err := handles.check(r.handle); err != nil {
		return nil, err
	}
	names := make([]string, len(r.cols))
	for i, c := range r.cols {
		names[i] = c.Name
	}
	return names, nil
}

// ColumnTypes returns the result columns with their engine type names.
func (r *QueryResult) ColumnTypes() ([]Column, error) {
	if err := handles.check(r.handle); err != nil {
		return nil, err
	}
	return append([]Column(nil), r.cols...), nil
}

// RowsFetched returns how many rows have been handed out so far.
func (r *QueryResult) RowsFetched() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fetched
}

// FetchChunk returns the next chunk of rows. Once the rows are exhausted it
// returns an empty, non-nil slice on every call.
func (r *QueryResult) FetchChunk() ([]Row, error) {
	return r.FetchChunkContext(context.Background())
}

// FetchChunkContext is FetchChunk with a context.
func (r *QueryResult) FetchChunkContext(ctx context.Context) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := handles.check(r.handle); err != nil {
		return nil, err
	}
	return r.fetch(ctx)
}

// fetch reads one chunk. Must be called with r.mu held.
func (r *QueryResult) fetch(ctx context.Context) ([]Row, error) {
	if r.cur == nil {
		return []Row{}, nil
	}

	rows, err := r.cur.next(ctx, r.chunkSize)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		// Exhausted: the engine side is released early, the handle stays
		// valid until Close.
		if err := r.cur.close(); err != nil {
			logger().Debug("closing exhausted result", "handle", r.handle.String(), "error", err)
		}
		r.cur = nil
		return []Row{}, nil
	}

	r.fetched += len(rows)
	recordRowsFetched(len(rows))
	return rows, nil
}

// FetchAll returns every row not fetched yet. After FetchChunk has consumed
// some rows, FetchAll continues from there.
func (r *QueryResult) FetchAll() ([]Row, error) {
	return r.FetchAllContext(context.Background())
}

// FetchAllContext is FetchAll with a context.
func (r *QueryResult) FetchAllContext(ctx context.Context) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := handles.check(r.handle); err != nil {
		return nil, err
	}

	all := []Row{}
	for {
		rows, err := r.fetch(ctx)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return all, nil
		}
		all = append(all, rows...)
	}
}

// Close releases the result.
func (r *QueryResult) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := handles.release(r.handle, false); err != nil {
		return err
	}
	return r.closeCursor()
}

func (r *QueryResult) teardown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCursor()
}

func (r *QueryResult) closeCursor() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.close()
	r.cur = nil
	if err != nil {
		return wrapError(ExecutionError, "closing result", err)
	}
	return nil
}
