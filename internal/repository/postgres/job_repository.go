package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/txops/internal/domain/errors"
	"github.com/cassiomorais/txops/internal/domain/job"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgUniqueViolation is raised by the one-running-job-per-transaction indexes.
const pgUniqueViolation = "23505"

const baseColumns = `id, space_id, transaction_id, order_id, state, failure_reason, created_at, updated_at`

// runningFilter selects jobs that are not terminal.
var runningFilter = fmt.Sprintf("state NOT IN ('%s', '%s')", job.StateSuccess, job.StateFailure)

func insertError(kind job.Kind, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return domainErrors.ErrOperationInProgress
	}
	return fmt.Errorf("insert %s job: %w", kind, err)
}

func stateStrings(states []job.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func listIDs(ctx context.Context, db DBTX, table string, states []job.State) ([]int64, error) {
	rows, err := db.Query(ctx,
		`SELECT id FROM `+table+` WHERE state = ANY($1) ORDER BY created_at, id`,
		stateStrings(states),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func baseDest(b *job.Base, state *string) []any {
	return []any{&b.ID, &b.SpaceID, &b.TransactionID, &b.OrderID, state, &b.FailureReason, &b.CreatedAt, &b.UpdatedAt}
}

func notFound(err error, kind job.Kind) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domainErrors.ErrJobNotFound
	}
	return fmt.Errorf("scan %s job: %w", kind, err)
}

func updated(tag pgconn.CommandTag, err error, kind job.Kind) error {
	if err != nil {
		return fmt.Errorf("update %s job: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrJobNotFound
	}
	return nil
}

// --- refunds ---

const refundColumns = baseColumns + `, external_id, refund_id, apply_tries, parameters, reductions`

// RefundRepository implements job.RefundRepository using PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *RefundRepository) Create(ctx context.Context, j *job.Refund) error {
	params, reductions, err := marshalRefund(j)
	if err != nil {
		return err
	}
	err = r.db(ctx).QueryRow(ctx,
		`INSERT INTO refund_jobs
		 (space_id, transaction_id, order_id, state, failure_reason, created_at, updated_at,
		  external_id, refund_id, apply_tries, parameters, reductions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		j.SpaceID, j.TransactionID, j.OrderID, string(j.State), j.FailureReason, j.CreatedAt, j.UpdatedAt,
		j.ExternalID, j.RefundID, j.ApplyTries, params, reductions,
	).Scan(&j.ID)
	if err != nil {
		return insertError(job.KindRefund, err)
	}
	return nil
}

func (r *RefundRepository) GetByID(ctx context.Context, id int64) (*job.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refund_jobs WHERE id = $1`, id))
}

func (r *RefundRepository) GetByExternalID(ctx context.Context, spaceID int64, externalID string) (*job.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refund_jobs WHERE space_id = $1 AND external_id = $2`,
		spaceID, externalID))
}

func (r *RefundRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Refund, error) {
	return scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refund_jobs
		 WHERE space_id = $1 AND transaction_id = $2 AND `+runningFilter+`
		 ORDER BY created_at DESC LIMIT 1`,
		spaceID, transactionID))
}

func (r *RefundRepository) Update(ctx context.Context, j *job.Refund) error {
	params, reductions, err := marshalRefund(j)
	if err != nil {
		return err
	}
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE refund_jobs SET
		  state = $1, failure_reason = $2, refund_id = $3, apply_tries = $4,
		  parameters = $5, reductions = $6, updated_at = $7
		 WHERE id = $8`,
		string(j.State), j.FailureReason, j.RefundID, j.ApplyTries,
		params, reductions, j.UpdatedAt, j.ID,
	)
	return updated(tag, err, job.KindRefund)
}

func (r *RefundRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return listIDs(ctx, r.db(ctx), "refund_jobs", states)
}

func (r *RefundRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Refund, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+refundColumns+` FROM refund_jobs WHERE order_id = $1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list refund jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Refund
	for rows.Next() {
		j, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func marshalRefund(j *job.Refund) ([]byte, []byte, error) {
	params, err := json.Marshal(j.Parameters)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal refund parameters: %w", err)
	}
	reductions, err := json.Marshal(j.Reductions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal refund reductions: %w", err)
	}
	return params, reductions, nil
}

func scanRefund(s scanner) (*job.Refund, error) {
	j := &job.Refund{}
	var (
		state      string
		params     []byte
		reductions []byte
	)
	dest := append(baseDest(&j.Base, &state), &j.ExternalID, &j.RefundID, &j.ApplyTries, &params, &reductions)
	if err := s.Scan(dest...); err != nil {
		return nil, notFound(err, job.KindRefund)
	}
	j.State = job.State(state)
	if err := json.Unmarshal(params, &j.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal refund parameters: %w", err)
	}
	if len(reductions) > 0 {
		if err := json.Unmarshal(reductions, &j.Reductions); err != nil {
			return nil, fmt.Errorf("unmarshal refund reductions: %w", err)
		}
	}
	return j, nil
}

// --- completions ---

const completionColumns = baseColumns + `, completion_id`

// CompletionRepository implements job.CompletionRepository using PostgreSQL.
type CompletionRepository struct {
	pool *pgxpool.Pool
}

func NewCompletionRepository(pool *pgxpool.Pool) *CompletionRepository {
	return &CompletionRepository{pool: pool}
}

func (r *CompletionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *CompletionRepository) Create(ctx context.Context, j *job.Completion) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO completion_jobs
		 (space_id, transaction_id, order_id, state, failure_reason, created_at, updated_at, completion_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		j.SpaceID, j.TransactionID, j.OrderID, string(j.State), j.FailureReason, j.CreatedAt, j.UpdatedAt, j.CompletionID,
	).Scan(&j.ID)
	if err != nil {
		return insertError(job.KindCompletion, err)
	}
	return nil
}

func (r *CompletionRepository) GetByID(ctx context.Context, id int64) (*job.Completion, error) {
	return scanCompletion(r.db(ctx).QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completion_jobs WHERE id = $1`, id))
}

func (r *CompletionRepository) GetByCompletionID(ctx context.Context, spaceID, completionID int64) (*job.Completion, error) {
	return scanCompletion(r.db(ctx).QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completion_jobs WHERE space_id = $1 AND completion_id = $2`,
		spaceID, completionID))
}

func (r *CompletionRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Completion, error) {
	return scanCompletion(r.db(ctx).QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completion_jobs
		 WHERE space_id = $1 AND transaction_id = $2 AND `+runningFilter+`
		 ORDER BY created_at DESC LIMIT 1`,
		spaceID, transactionID))
}

func (r *CompletionRepository) Update(ctx context.Context, j *job.Completion) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE completion_jobs SET state = $1, failure_reason = $2, completion_id = $3, updated_at = $4
		 WHERE id = $5`,
		string(j.State), j.FailureReason, j.CompletionID, j.UpdatedAt, j.ID,
	)
	return updated(tag, err, job.KindCompletion)
}

func (r *CompletionRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return listIDs(ctx, r.db(ctx), "completion_jobs", states)
}

func (r *CompletionRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Completion, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+completionColumns+` FROM completion_jobs WHERE order_id = $1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list completion jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Completion
	for rows.Next() {
		j, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanCompletion(s scanner) (*job.Completion, error) {
	j := &job.Completion{}
	var state string
	if err := s.Scan(append(baseDest(&j.Base, &state), &j.CompletionID)...); err != nil {
		return nil, notFound(err, job.KindCompletion)
	}
	j.State = job.State(state)
	return j, nil
}

// --- voids ---

const voidColumns = baseColumns + `, void_id`

// VoidRepository implements job.VoidRepository using PostgreSQL.
type VoidRepository struct {
	pool *pgxpool.Pool
}

func NewVoidRepository(pool *pgxpool.Pool) *VoidRepository {
	return &VoidRepository{pool: pool}
}

func (r *VoidRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *VoidRepository) Create(ctx context.Context, j *job.Void) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO void_jobs
		 (space_id, transaction_id, order_id, state, failure_reason, created_at, updated_at, void_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		j.SpaceID, j.TransactionID, j.OrderID, string(j.State), j.FailureReason, j.CreatedAt, j.UpdatedAt, j.VoidID,
	).Scan(&j.ID)
	if err != nil {
		return insertError(job.KindVoid, err)
	}
	return nil
}

func (r *VoidRepository) GetByID(ctx context.Context, id int64) (*job.Void, error) {
	return scanVoid(r.db(ctx).QueryRow(ctx,
		`SELECT `+voidColumns+` FROM void_jobs WHERE id = $1`, id))
}

func (r *VoidRepository) GetByVoidID(ctx context.Context, spaceID, voidID int64) (*job.Void, error) {
	return scanVoid(r.db(ctx).QueryRow(ctx,
		`SELECT `+voidColumns+` FROM void_jobs WHERE space_id = $1 AND void_id = $2`,
		spaceID, voidID))
}

func (r *VoidRepository) FindRunning(ctx context.Context, spaceID, transactionID int64) (*job.Void, error) {
	return scanVoid(r.db(ctx).QueryRow(ctx,
		`SELECT `+voidColumns+` FROM void_jobs
		 WHERE space_id = $1 AND transaction_id = $2 AND `+runningFilter+`
		 ORDER BY created_at DESC LIMIT 1`,
		spaceID, transactionID))
}

func (r *VoidRepository) Update(ctx context.Context, j *job.Void) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE void_jobs SET state = $1, failure_reason = $2, void_id = $3, updated_at = $4
		 WHERE id = $5`,
		string(j.State), j.FailureReason, j.VoidID, j.UpdatedAt, j.ID,
	)
	return updated(tag, err, job.KindVoid)
}

func (r *VoidRepository) ListIDsByState(ctx context.Context, states ...job.State) ([]int64, error) {
	return listIDs(ctx, r.db(ctx), "void_jobs", states)
}

func (r *VoidRepository) ListByOrder(ctx context.Context, orderID int64) ([]*job.Void, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+voidColumns+` FROM void_jobs WHERE order_id = $1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list void jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Void
	for rows.Next() {
		j, err := scanVoid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanVoid(s scanner) (*job.Void, error) {
	j := &job.Void{}
	var state string
	if err := s.Scan(append(baseDest(&j.Base, &state), &j.VoidID)...); err != nil {
		return nil, notFound(err, job.KindVoid)
	}
	j.State = job.State(state)
	return j, nil
}
