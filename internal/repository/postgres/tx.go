package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// withTx runs fn inside a transaction. Lead enqueue and calling-window
// replacement are the only multi-statement writes here; queue claiming
// deliberately stays a single conditional UPDATE outside any transaction.
func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) (err error) {
	tx, beginErr := db.BeginTxx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("tx begin: %w", beginErr)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = fmt.Errorf("tx rollback: %v (original err: %w)", rbErr, err)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("tx commit: %w", cErr)
		}
	}()

	return fn(tx)
}
