package store

import (
	"context"
	"database/sql"
	"errors"
	"math/big"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Execution is one settled swap. Amounts are base-unit integers.
type Execution struct {
	TxHash              string
	PlanHash            string
	AmountIn            *big.Int
	AmountOut           *big.Int
	FeeAmount           *big.Int
	TokenOutAddress     string
	ExecutedAt          int64
	NeedsReconciliation bool
}

// HistoryFilter narrows an execution history query. Zero values mean no
// constraint on that dimension.
type HistoryFilter struct {
	Token    string
	DayStart int64 // unix seconds, inclusive
	DayEnd   int64 // unix seconds, exclusive
	Limit    int
	Offset   int
}

// CommitExecution records a settled swap and advances the plan's
// last_executed_at in one transaction. Committing the same tx hash twice is
// a no-op: the on-chain settlement already happened, so the record must not
// double.
func (s *Store) CommitExecution(ctx context.Context, exec Execution) error {
	if exec.TxHash == "" {
		return apperr.New(apperr.KindStorageIntegrityError, "execution has no tx hash")
	}
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "begin commit", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existing string
	err = tx.QueryRowContext(ctx,
		"SELECT tx_hash FROM executions WHERE tx_hash = ?", exec.TxHash).Scan(&existing)
	switch {
	case err == nil:
		// Already recorded; the earlier commit also advanced the plan.
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return apperr.Wrap(apperr.KindStorageUnavailable, "check duplicate execution", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE plans SET last_executed_at = ? WHERE plan_hash = ?",
		exec.ExecutedAt, exec.PlanHash)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "advance plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindStorageIntegrityError, "execution references unknown plan: "+exec.PlanHash)
	}

	needsReconciliation := 0
	if exec.NeedsReconciliation {
		needsReconciliation = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (tx_hash, plan_hash, amount_in, amount_out,
			fee_amount, token_out_address, executed_at, needs_reconciliation)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.TxHash, exec.PlanHash, bigString(exec.AmountIn), bigString(exec.AmountOut),
		bigString(exec.FeeAmount), normalizeAddress(exec.TokenOutAddress),
		exec.ExecutedAt, needsReconciliation)
	if err != nil {
		if isUniqueViolation(err) {
			// Raced with a concurrent commit of the same hash.
			return nil
		}
		if isConstraintViolation(err) {
			return apperr.Wrap(apperr.KindStorageIntegrityError, "record execution", err)
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "record execution", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "commit execution", err)
	}
	return nil
}

// ExecutionHistory returns a page of the user's executions, newest first,
// joined across all of the user's plans including soft-deleted ones. The
// second return value is the unpaged total for the same filter.
func (s *Store) ExecutionHistory(ctx context.Context, userWallet string, f HistoryFilter) ([]Execution, int, error) {
	where := "p.user_wallet = ?"
	args := []any{normalizeAddress(userWallet)}
	if f.Token != "" {
		where += " AND e.token_out_address = ?"
		args = append(args, normalizeAddress(f.Token))
	}
	if f.DayStart != 0 {
		where += " AND e.executed_at >= ?"
		args = append(args, f.DayStart)
	}
	if f.DayEnd != 0 {
		where += " AND e.executed_at < ?"
		args = append(args, f.DayEnd)
	}

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM executions e
		JOIN plans p ON p.plan_hash = e.plan_hash
		WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "count executions", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.tx_hash, e.plan_hash, e.amount_in, e.amount_out, e.fee_amount,
			e.token_out_address, e.executed_at, e.needs_reconciliation
		FROM executions e
		JOIN plans p ON p.plan_hash = e.plan_hash
		WHERE `+where+`
		ORDER BY e.executed_at DESC, e.tx_hash
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.KindStorageUnavailable, "query executions", err)
	}
	defer rows.Close()

	execs, err := scanExecutions(rows)
	if err != nil {
		return nil, 0, err
	}
	return execs, total, nil
}

// ExecutionsByPlan lists a single plan's executions, newest first.
func (s *Store) ExecutionsByPlan(ctx context.Context, planHash string) ([]Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, plan_hash, amount_in, amount_out, fee_amount,
			token_out_address, executed_at, needs_reconciliation
		FROM executions WHERE plan_hash = ?
		ORDER BY executed_at DESC, tx_hash`, planHash)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "query plan executions", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	execs := make([]Execution, 0)
	for rows.Next() {
		var (
			e                        Execution
			amountIn, amountOut, fee string
			needsReconciliation      int
		)
		if err := rows.Scan(&e.TxHash, &e.PlanHash, &amountIn, &amountOut, &fee,
			&e.TokenOutAddress, &e.ExecutedAt, &needsReconciliation); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan execution row", err)
		}
		var err error
		if e.AmountIn, err = parseBig(amountIn); err != nil {
			return nil, err
		}
		if e.AmountOut, err = parseBig(amountOut); err != nil {
			return nil, err
		}
		if e.FeeAmount, err = parseBig(fee); err != nil {
			return nil, err
		}
		e.NeedsReconciliation = needsReconciliation != 0
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "iterate execution rows", err)
	}
	return execs, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, apperr.New(apperr.KindStorageIntegrityError, "stored amount is not an integer: "+s)
	}
	return v, nil
}
