package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/voucher"
)

const (
	voucherColumns = `id, rule_id, customer_id, code, face_value, currency, contents, location,
		status, issued_at, expires_at, lost_at, redeemed_at, replacement_of, replaced_by`

	insertVoucherSQL = `INSERT INTO vouchers (` + voucherColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	getVoucherSQL       = `SELECT ` + voucherColumns + ` FROM vouchers WHERE id = $1`
	getVoucherByCodeSQL = `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`
	voucherCodeSQL      = `SELECT EXISTS (SELECT 1 FROM vouchers WHERE code = $1)`
	listCodesSQL        = `SELECT code FROM vouchers`

	// updateVoucherSQL only touches lifecycle columns and only when the stored
	// status still matches.
	updateVoucherSQL = `UPDATE vouchers
		SET status = $2, lost_at = $3, redeemed_at = $4, replaced_by = $5
		WHERE id = $1 AND status = $6`
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

func (r *VoucherRepository) Create(ctx context.Context, vouchers ...*voucher.Voucher) error {
	if len(vouchers) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var batch pgx.Batch
		for _, v := range vouchers {
			batch.Queue(insertVoucherSQL, voucherArgs(v)...)
		}
		return tx.SendBatch(ctx, &batch).Close()
	})
	if err != nil {
		return errors.Wrap(err, "create vouchers")
	}
	return nil
}

func (r *VoucherRepository) Get(ctx context.Context, id uuid.UUID) (*voucher.Voucher, error) {
	return r.one(ctx, getVoucherSQL, id)
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (*voucher.Voucher, error) {
	return r.one(ctx, getVoucherByCodeSQL, code)
}

func (r *VoucherRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, voucherCodeSQL, code).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check voucher code")
	}
	return exists, nil
}

// EachCode streams every stored redemption code to fn.
func (r *VoucherRepository) EachCode(ctx context.Context, fn func(code string)) error {
	rows, err := r.pool.Query(ctx, listCodesSQL)
	if err != nil {
		return errors.Wrap(err, "list voucher codes")
	}
	var code string
	if _, err := pgx.ForEachRow(rows, []any{&code}, func() error {
		fn(code)
		return nil
	}); err != nil {
		return errors.Wrap(err, "scan voucher codes")
	}
	return nil
}

func (r *VoucherRepository) Update(ctx context.Context, v *voucher.Voucher, from voucher.Status) error {
	return update(ctx, r.pool, v, from)
}

// Replace invalidates the original and inserts the replacement in one
// transaction.
func (r *VoucherRepository) Replace(ctx context.Context, original, replacement *voucher.Voucher) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertVoucherSQL, voucherArgs(replacement)...); err != nil {
			return errors.Wrap(err, "insert replacement")
		}
		return update(ctx, tx, original, voucher.StatusLost)
	})
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func update(ctx context.Context, db execer, v *voucher.Voucher, from voucher.Status) error {
	tag, err := db.Exec(ctx, updateVoucherSQL,
		v.ID, string(v.Status), nullTime(v.LostAt), nullTime(v.RedeemedAt), nullUUID(v.ReplacedBy), string(from),
	)
	if err != nil {
		return errors.Wrapf(err, "update voucher %s", v.ID)
	}
	if tag.RowsAffected() == 0 {
		return voucher.ErrStateChanged
	}
	return nil
}

func (r *VoucherRepository) one(ctx context.Context, sql string, arg any) (*voucher.Voucher, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "get voucher")
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVoucher)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, voucher.ErrNotFound
		}
		return nil, errors.Wrap(err, "get voucher")
	}
	return &v, nil
}

func voucherArgs(v *voucher.Voucher) []any {
	return []any{
		v.ID, v.RuleID, v.CustomerID, v.Code, v.FaceValue.Amount(), v.FaceValue.Currency(),
		v.Contents, v.Location, string(v.Status), v.IssuedAt, v.ExpiresAt,
		nullTime(v.LostAt), nullTime(v.RedeemedAt), nullUUID(v.ReplacementOf), nullUUID(v.ReplacedBy),
	}
}

func scanVoucher(row pgx.CollectableRow) (voucher.Voucher, error) {
	var (
		v             voucher.Voucher
		faceValue     decimal.Decimal
		currency      string
		status        string
		lostAt        *time.Time
		redeemedAt    *time.Time
		replacementOf *uuid.UUID
		replacedBy    *uuid.UUID
	)
	err := row.Scan(
		&v.ID, &v.RuleID, &v.CustomerID, &v.Code, &faceValue, &currency, &v.Contents, &v.Location,
		&status, &v.IssuedAt, &v.ExpiresAt, &lostAt, &redeemedAt, &replacementOf, &replacedBy,
	)
	v.FaceValue = money.New(faceValue, currency)
	v.Status = voucher.Status(status)
	if lostAt != nil {
		v.LostAt = *lostAt
	}
	if redeemedAt != nil {
		v.RedeemedAt = *redeemedAt
	}
	if replacementOf != nil {
		v.ReplacementOf = *replacementOf
	}
	if replacedBy != nil {
		v.ReplacedBy = *replacedBy
	}
	return v, err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
