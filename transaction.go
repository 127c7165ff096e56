package duckling

import (
	"context"
)

// txn is an explicit engine transaction on one session. The appender flush
// runs inside one so a batch is committed or rolled back as a whole.
type txn struct {
	exec     func(ctx context.Context, sql string) error
	finished bool
}

func beginTxn(ctx context.Context, exec func(ctx context.Context, sql string) error) (*txn, error) {
	if err := exec(ctx, "BEGIN TRANSACTION"); err != nil {
		return nil, err
	}
	return &txn{exec: exec}, nil
}

// commit ends the transaction. A failed COMMIT is followed by a ROLLBACK so
// the session is never left inside an aborted transaction.
func (t *txn) commit(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true

	if err := t.exec(ctx, "COMMIT"); err != nil {
		if rbErr := t.exec(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			logger().Debug("rollback after failed commit", "error", rbErr)
		}
		return err
	}
	return nil
}

func (t *txn) rollback(ctx context.Context) error {
	if t.finished {
		return nil
	}
	t.finished = true
	return t.exec(context.WithoutCancel(ctx), "ROLLBACK")
}
