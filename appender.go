package duckling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Appender buffers rows for one table and inserts them in bulk. Buffered
// rows are not visible to any query until Flush or Close commits them.
type Appender struct {
	handle Handle
	conn   *Connection
	schema string
	table  string
	cols   []Column
	buf    []Row
	mu     sync.Mutex
}

// Handle returns the opaque handle of the appender.
func (a *Appender) Handle() Handle {
	return a.handle
}

// Table returns the name of the bound table.
func (a *Appender) Table() string {
	if a.schema == "" {
		return a.table
	}
	return a.schema + "." + a.table
}

// Columns returns the columns of the bound table, as read when the appender
// was created.
func (a *Appender) Columns() ([]Column, error) {
	if err := handles.check(a.handle); err != nil {
		return nil, err
	}
	return append([]Column(nil), a.cols...), nil
}

// AddRow buffers one row. The values must match the table's columns in
// number and type, otherwise a SchemaMismatch error is returned and nothing
// is buffered.
func (a *Appender) AddRow(values ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return err
	}

	row, err := a.convertRow(values)
	if err != nil {
		return err
	}
	a.buf = append(a.buf, row)
	recordRowsBuffered(1)
	return nil
}

// AddRows buffers several rows. Every row is checked before any is
// buffered: if one fails, none of them is.
func (a *Appender) AddRows(rows [][]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return err
	}

	converted := make([]Row, len(rows))
	for i, values := range rows {
		row, err := a.convertRow(values)
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				e.Message = fmt.Sprintf("row %d: %s", i+1, e.Message)
			}
			return err
		}
		converted[i] = row
	}

	a.buf = append(a.buf, converted...)
	recordRowsBuffered(len(converted))
	return nil
}

func (a *Appender) convertRow(values []any) (Row, error) {
	if len(values) != len(a.cols) {
		return nil, &Error{
			Type:    SchemaMismatch,
			Message: fmt.Sprintf("expected %d values, got %d", len(a.cols), len(values)),
		}
	}

	row := make(Row, len(values))
	for i, x := range values {
		v, err := ValueOf(x)
		if err == nil {
			v, err = coerce(v, a.cols[i].Type)
		}
		if err != nil {
			return nil, &Error{
				Type:    SchemaMismatch,
				Message: fmt.Sprintf("column %s %s", a.cols[i].Name, a.cols[i].Type),
				Detail:  err.Error(),
				Err:     err,
			}
		}
		row[i] = v
	}
	return row, nil
}

// Buffered returns the number of rows waiting for the next flush.
func (a *Appender) Buffered() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return 0, err
	}
	return len(a.buf), nil
}

// Discard drops every buffered row.
func (a *Appender) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return err
	}
	recordRowsDiscarded(len(a.buf))
	a.buf = nil
	return nil
}

// Flush commits the buffered rows in a single transaction. If the engine
// rejects any row nothing is committed, the buffer is kept and an
// ExecutionError is returned.
func (a *Appender) Flush() error {
	return a.FlushContext(context.Background())
}

// FlushContext is Flush with a context.
func (a *Appender) FlushContext(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return err
	}
	return a.flush(ctx)
}

// flush must be called with a.mu held.
func (a *Appender) flush(ctx context.Context) error {
	if len(a.buf) == 0 {
		return nil
	}

	start := time.Now()
	a.conn.mu.Lock()
	err := a.conn.sess.appendRows(ctx, a.schema, a.table, a.cols, a.buf)
	a.conn.mu.Unlock()
	recordFlush(start, len(a.buf), err)
	if err != nil {
		return wrapError(ExecutionError, "flushing "+a.Table(), err)
	}

	logger().Debug("appender flushed", "table", a.Table(), "rows", len(a.buf))
	a.buf = nil
	return nil
}

// Close flushes the buffered rows and releases the appender. The handle is
// invalid afterwards even if the flush fails; in that case the rows are
// dropped and the flush error is returned.
func (a *Appender) Close() error {
	return a.CloseContext(context.Background())
}

// CloseContext is Close with a context.
func (a *Appender) CloseContext(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := handles.check(a.handle); err != nil {
		return err
	}

	flushErr := a.flush(ctx)
	if flushErr != nil {
		logger().Warn("dropping rows after failed flush", "table", a.Table(), "rows", len(a.buf), "error", flushErr)
		recordRowsDiscarded(len(a.buf))
		a.buf = nil
	}

	if err := handles.release(a.handle, false); err != nil && flushErr == nil {
		// The owning connection closed while the rows were being committed;
		// they are committed and nothing else is left to release.
		if IsError(err, ClosedHandle) {
			return nil
		}
		return err
	}
	return flushErr
}

// teardown runs when the owning connection closes first.
func (a *Appender) teardown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.buf); n > 0 {
		logger().Warn("discarding unflushed rows", "table", a.Table(), "rows", n)
		recordRowsDiscarded(n)
		a.buf = nil
	}
	return nil
}
