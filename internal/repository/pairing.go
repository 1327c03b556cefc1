package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/twopix/pairing-server-go/internal/model"
)

type PairingRepository interface {
	FindByID(ctx context.Context, id string) (*model.Pairing, error)
	FindActiveByAccount(ctx context.Context, accountID string) (*model.Pairing, error)
	Create(ctx context.Context, accountA, accountB string, establishedAt time.Time) (*model.Pairing, error)
	End(ctx context.Context, id string, endedAt time.Time) (bool, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PairingRepository
}

type pairingRepo struct {
	db sqlxDB
}

func NewPairingRepository(db *sqlx.DB) PairingRepository {
	return &pairingRepo{db: db}
}

func (r *pairingRepo) WithTx(tx *sqlx.Tx) PairingRepository {
	return &pairingRepo{db: tx}
}

func (r *pairingRepo) FindByID(ctx context.Context, id string) (*model.Pairing, error) {
	var p model.Pairing
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM pairings WHERE id = $1
	`, id)
	return HandleNotFound(&p, err)
}

func (r *pairingRepo) FindActiveByAccount(ctx context.Context, accountID string) (*model.Pairing, error) {
	var p model.Pairing
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM pairings
		WHERE ended_at IS NULL
		AND (participant_a = $1 OR participant_b = $1)
	`, accountID)
	return HandleNotFound(&p, err)
}

func (r *pairingRepo) Create(ctx context.Context, accountA, accountB string, establishedAt time.Time) (*model.Pairing, error) {
	a, b := model.OrderParticipants(accountA, accountB)
	var p model.Pairing
	err := r.db.GetContext(ctx, &p, `
		INSERT INTO pairings (participant_a, participant_b, established_at)
		VALUES ($1, $2, $3)
		RETURNING *
	`, a, b, establishedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pairingRepo) End(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairings SET ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
	`, id, endedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
