package store

import (
	"context"
	"database/sql"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Plan is a recurring purchase intent. A last_executed_at of zero marks a
// plan whose initial investment has not run yet.
type Plan struct {
	PlanHash         string
	UserWallet       string
	TokenOutAddress  string
	Recipient        string
	AmountIn         *big.Int
	FrequencySeconds int64
	LastExecutedAt   int64
	Active           bool
	CreatedAt        int64
	LastActivatedAt  int64 // zero when never paused and resumed
	DeletedAt        int64 // zero unless soft-deleted
}

// ComputePlanHash derives the stable plan identifier:
// keccak256(abi.encodePacked(tokenOut, recipient)).
func ComputePlanHash(tokenOut, recipient common.Address) string {
	packed := append(tokenOut.Bytes(), recipient.Bytes()...)
	return common.BytesToHash(crypto.Keccak256(packed)).Hex()
}

const planColumns = `plan_hash, user_wallet, token_out_address, recipient,
	amount_in, frequency_seconds, last_executed_at, active, created_at,
	COALESCE(last_activated_at, 0), COALESCE(deleted_at, 0)`

func scanPlan(row interface{ Scan(...any) error }) (Plan, error) {
	var (
		p        Plan
		amountIn string
	)
	err := row.Scan(&p.PlanHash, &p.UserWallet, &p.TokenOutAddress, &p.Recipient,
		&amountIn, &p.FrequencySeconds, &p.LastExecutedAt, &p.Active, &p.CreatedAt,
		&p.LastActivatedAt, &p.DeletedAt)
	if err != nil {
		return Plan{}, err
	}
	value, ok := new(big.Int).SetString(amountIn, 10)
	if !ok {
		return Plan{}, apperr.New(apperr.KindStorageIntegrityError, "plan amount_in is not an integer: "+amountIn)
	}
	p.AmountIn = value
	return p, nil
}

// PlanByHash loads a plan regardless of active or deleted state; execution
// validation happens in the engine, with the full picture.
func (s *Store) PlanByHash(ctx context.Context, planHash string) (Plan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+" FROM plans WHERE plan_hash = ?", planHash)
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, apperr.New(apperr.KindPlanNotFound, "plan not found: "+planHash)
		}
		if _, ok := apperr.As(err); ok {
			return Plan{}, err
		}
		return Plan{}, apperr.Wrap(apperr.KindStorageUnavailable, "read plan", err)
	}
	return p, nil
}

// FindPlan locates the non-deleted plan for a (user, token) pair. At most
// one such plan exists.
func (s *Store) FindPlan(ctx context.Context, userWallet, tokenOut string) (Plan, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+planColumns+` FROM plans
		WHERE user_wallet = ? AND token_out_address = ? AND deleted_at IS NULL`,
		normalizeAddress(userWallet), normalizeAddress(tokenOut))
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Plan{}, apperr.New(apperr.KindPlanNotFound, "no plan for this token")
		}
		if _, ok := apperr.As(err); ok {
			return Plan{}, err
		}
		return Plan{}, apperr.Wrap(apperr.KindStorageUnavailable, "find plan", err)
	}
	return p, nil
}

// PlansByUser lists the user's non-deleted plans, newest first.
func (s *Store) PlansByUser(ctx context.Context, userWallet string) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+planColumns+` FROM plans
		WHERE user_wallet = ? AND deleted_at IS NULL
		ORDER BY created_at DESC`, normalizeAddress(userWallet))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "list plans", err)
	}
	defer rows.Close()

	plans := make([]Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, "scan plan row", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, "iterate plan rows", err)
	}
	return plans, nil
}

// CreatePlan inserts a new plan in the never-executed state. An existing
// non-deleted plan for the same hash is a conflict.
func (s *Store) CreatePlan(ctx context.Context, p Plan) error {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return apperr.New(apperr.KindBadRequest, "plan amount must be positive")
	}
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (plan_hash, user_wallet, token_out_address, recipient,
			amount_in, frequency_seconds, last_executed_at, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?)`,
		p.PlanHash, normalizeAddress(p.UserWallet), normalizeAddress(p.TokenOutAddress),
		normalizeAddress(p.Recipient), p.AmountIn.String(), p.FrequencySeconds,
		s.now().UTC().Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.New(apperr.KindBadRequest, "plan already exists")
		}
		return apperr.Wrap(apperr.KindStorageUnavailable, "create plan", err)
	}
	return nil
}

// ReactivatePlan resurrects an inactive plan with fresh terms. The
// first-run sentinel is reset so the initial investment path applies again.
func (s *Store) ReactivatePlan(ctx context.Context, planHash string, amountIn *big.Int, frequencySeconds int64) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return apperr.New(apperr.KindBadRequest, "plan amount must be positive")
	}
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	now := s.now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET active = 1, amount_in = ?, frequency_seconds = ?,
			last_executed_at = 0, created_at = ?, last_activated_at = ?
		WHERE plan_hash = ? AND active = 0 AND deleted_at IS NULL`,
		amountIn.String(), frequencySeconds, now, now, planHash)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "reactivate plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindPlanNotFound, "no inactive plan to reactivate")
	}
	return nil
}

// SetActive pauses or resumes a plan. Resuming stamps last_activated_at,
// which marks the start of the current active window.
func (s *Store) SetActive(ctx context.Context, planHash string, active bool) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	var res sql.Result
	if active {
		res, err = s.db.ExecContext(ctx, `
			UPDATE plans SET active = 1, last_activated_at = ?
			WHERE plan_hash = ? AND deleted_at IS NULL`,
			s.now().UTC().Unix(), planHash)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE plans SET active = 0 WHERE plan_hash = ? AND deleted_at IS NULL", planHash)
	}
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "toggle plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindPlanNotFound, "plan not found: "+planHash)
	}
	return nil
}

// RecreatePlan replaces a soft-deleted plan with a fresh one under the same
// hash. The hash is derived from (tokenOut, recipient), so a deleted row
// permanently occupies it; re-creation takes over that row with the new
// request's ownership and terms and resets the never-executed state.
func (s *Store) RecreatePlan(ctx context.Context, p Plan) error {
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return apperr.New(apperr.KindBadRequest, "plan amount must be positive")
	}
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET user_wallet = ?, amount_in = ?, frequency_seconds = ?,
			last_executed_at = 0, active = 1, created_at = ?,
			last_activated_at = NULL, deleted_at = NULL
		WHERE plan_hash = ? AND deleted_at IS NOT NULL`,
		normalizeAddress(p.UserWallet), p.AmountIn.String(), p.FrequencySeconds,
		s.now().UTC().Unix(), p.PlanHash)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "recreate plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindPlanNotFound, "no deleted plan to recreate")
	}
	return nil
}

// SoftDeletePlan hides the plan from future matching while preserving its
// executions.
func (s *Store) SoftDeletePlan(ctx context.Context, planHash string) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET deleted_at = ?, active = 0
		WHERE plan_hash = ? AND deleted_at IS NULL`,
		s.now().UTC().Unix(), planHash)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "delete plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindPlanNotFound, "plan not found: "+planHash)
	}
	return nil
}
