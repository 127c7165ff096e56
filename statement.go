package duckling

import (
	"context"
	"sync"
	"time"
)

// Statement is a compiled SQL statement that can be executed any number of
// times with different parameters. Results of its executions are owned by
// the statement and close with it.
type Statement struct {
	handle Handle
	conn   *Connection
	stmt   prepared
	query  string
	mu     sync.Mutex
}

// Handle returns the opaque handle of the statement.
func (s *Statement) Handle() Handle {
	return s.handle
}

// SQL returns the text the statement was prepared from.
func (s *Statement) SQL() string {
	return s.query
}

// NumInput returns the number of placeholders, or -1 when the backend
// cannot tell.
func (s *Statement) NumInput() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := handles.check(s.handle); err != nil {
		return 0, err
	}
	return s.stmt.numInput(), nil
}

// Execute binds params to the placeholders in order and runs the statement.
func (s *Statement) Execute(params ...any) (*QueryResult, error) {
	return s.ExecuteContext(context.Background(), params...)
}

// ExecuteContext is Execute with a context. A parameter count that differs
// from NumInput, or a parameter that has no engine representation, fails
// with a BindError.
func (s *Statement) ExecuteContext(ctx context.Context, params ...any) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := handles.check(s.handle); err != nil {
		return nil, err
	}

	args, err := valuesOf(params)
	if err != nil {
		return nil, wrapError(BindError, "converting parameters", err)
	}
	if err := checkArity(s.stmt, args); err != nil {
		return nil, err
	}

	start := time.Now()
	s.conn.mu.Lock()
	cur, err := s.stmt.execute(ctx, args)
	s.conn.mu.Unlock()
	recordQuery(start, err)
	if err != nil {
		return nil, err
	}

	return newQueryResult(s.handle, cur, s.conn.chunkSize)
}

// Close releases the statement and every result it produced.
func (s *Statement) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := handles.release(s.handle, true); err != nil {
		return err
	}
	if err := s.stmt.close(); err != nil {
		return wrapError(ExecutionError, "closing statement", err)
	}
	return nil
}

// teardown runs when the owning connection closes first.
func (s *Statement) teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stmt.close()
}
