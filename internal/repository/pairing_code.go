package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/twopix/pairing-server-go/internal/model"
)

// PairingCodeRepository is the sole authority for pairing code state.
// Code rows move open -> consumed (via Consume, exactly once) or
// open -> expired (via MarkExpired / ExpireOpenByOwner); both are terminal.
type PairingCodeRepository interface {
	FindOpenByCode(ctx context.Context, code string) (*model.PairingCode, error)
	FindOpenByOwner(ctx context.Context, accountID string) (*model.PairingCode, error)
	Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error)
	// Consume atomically flips an open, unexpired code to consumed. It
	// returns nil when the row was already consumed, expired or never
	// existed; concurrent callers racing on the same code see at most one
	// non-nil result.
	Consume(ctx context.Context, code, consumedBy string, now time.Time) (*model.PairingCode, error)
	MarkExpired(ctx context.Context, code string) error
	// ExpireOpenByOwner supersedes any open codes the owner still has.
	ExpireOpenByOwner(ctx context.Context, accountID string) (int64, error)
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PairingCodeRepository
}

type pairingCodeRepo struct {
	db sqlxDB
}

func NewPairingCodeRepository(db *sqlx.DB) PairingCodeRepository {
	return &pairingCodeRepo{db: db}
}

func (r *pairingCodeRepo) WithTx(tx *sqlx.Tx) PairingCodeRepository {
	return &pairingCodeRepo{db: tx}
}

func (r *pairingCodeRepo) FindOpenByCode(ctx context.Context, code string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE code = $1 AND status = 'open'
		ORDER BY issued_at DESC
		LIMIT 1
	`, code)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) FindOpenByOwner(ctx context.Context, accountID string) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		SELECT * FROM pairing_codes
		WHERE account_id = $1 AND status = 'open'
		ORDER BY issued_at DESC
		LIMIT 1
	`, accountID)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) Create(ctx context.Context, params model.CreatePairingCodeParams) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		INSERT INTO pairing_codes (code, account_id, status, issued_at, expires_at)
		VALUES ($1, $2, 'open', $3, $4)
		RETURNING *
	`, params.Code, params.AccountID, params.IssuedAt, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &pc, nil
}

// Consume is the serialization point for concurrent submissions: the
// conditional UPDATE succeeds for exactly one caller per open row.
func (r *pairingCodeRepo) Consume(ctx context.Context, code, consumedBy string, now time.Time) (*model.PairingCode, error) {
	var pc model.PairingCode
	err := r.db.GetContext(ctx, &pc, `
		UPDATE pairing_codes SET
			status = 'consumed',
			consumed_at = $3,
			consumed_by = $2
		WHERE code = $1 AND status = 'open' AND expires_at > $3
		RETURNING *
	`, code, consumedBy, now)
	return HandleNotFound(&pc, err)
}

func (r *pairingCodeRepo) MarkExpired(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE code = $1 AND status = 'open'
	`, code)
	return err
}

func (r *pairingCodeRepo) ExpireOpenByOwner(ctx context.Context, accountID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_codes SET status = 'expired'
		WHERE account_id = $1 AND status = 'open'
	`, accountID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *pairingCodeRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_codes
		WHERE (status = 'open' AND expires_at < $1)
		OR (status IN ('consumed', 'expired') AND expires_at < $1)
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
