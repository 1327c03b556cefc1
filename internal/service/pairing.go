package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/twopix/pairing-server-go/internal/audit"
	"github.com/twopix/pairing-server-go/internal/database"
	apperrors "github.com/twopix/pairing-server-go/internal/errors"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/repository"
	"github.com/twopix/pairing-server-go/internal/sse"
	"github.com/twopix/pairing-server-go/internal/util"
)

const (
	// Pix Codes are six decimal digits, drawn uniformly from the full
	// 000000-999999 space with crypto/rand.
	pixCodeDigits    = 6
	pixCodeSpaceSize = 1_000_000

	maxGenerateAttempts = 10

	submitRateLimitKeyPrefix = "pairing_submit:"
	submitRateLimitWindow    = time.Minute
)

// OutcomeKind discriminates the result of a code submission.
type OutcomeKind string

const (
	OutcomeMatched             OutcomeKind = "matched"
	OutcomeNotFound            OutcomeKind = "not_found"
	OutcomeSelfPairingRejected OutcomeKind = "self_pairing_rejected"
	OutcomeAlreadyPaired       OutcomeKind = "already_paired"
)

// Outcome is the result of resolving a submitted code. Pairing is set only
// when Kind is OutcomeMatched. PartnerNotified reports whether the code
// owner's waiting client was told about the match; the pairing itself is
// durable either way.
type Outcome struct {
	Kind            OutcomeKind    `json:"outcome"`
	Pairing         *model.Pairing `json:"pairing,omitempty"`
	PartnerNotified bool           `json:"partnerNotified"`
}

// TxRunner abstracts database.DB.WithTx so resolution logic can be tested
// against in-memory repositories.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// EventPublisher is satisfied by sse.Broker.
type EventPublisher interface {
	Publish(ctx context.Context, accountID string, event sse.Event) error
}

type PairingService struct {
	db          TxRunner
	codeRepo    repository.PairingCodeRepository
	pairingRepo repository.PairingRepository
	publisher   EventPublisher
	limiter     *RateLimiter
	codeTTL     time.Duration
	submitLimit int
	now         func() time.Time
}

func NewPairingService(
	db TxRunner,
	codeRepo repository.PairingCodeRepository,
	pairingRepo repository.PairingRepository,
	publisher EventPublisher,
	limiter *RateLimiter,
	codeTTL time.Duration,
	submitLimit int,
) *PairingService {
	return &PairingService{
		db:          db,
		codeRepo:    codeRepo,
		pairingRepo: pairingRepo,
		publisher:   publisher,
		limiter:     limiter,
		codeTTL:     codeTTL,
		submitLimit: submitLimit,
		now:         time.Now,
	}
}

// RequestCode issues a fresh open code for ownerID, superseding any code
// the owner still has open. Both steps happen in one transaction so the
// "at most one open code per owner" invariant holds at every commit point.
func (s *PairingService) RequestCode(ctx context.Context, ownerID string) (*model.PairingCode, error) {
	active, err := s.pairingRepo.FindActiveByAccount(ctx, ownerID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if active != nil {
		return nil, apperrors.AlreadyPaired()
	}

	code, err := s.freshCode(ctx)
	if err != nil {
		return nil, apperrors.GenerationFailed(err)
	}

	now := s.now()
	var pc *model.PairingCode
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		codeRepo := s.codeRepo.WithTx(tx)

		superseded, err := codeRepo.ExpireOpenByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if superseded > 0 {
			log.Debug().
				Str("accountId", ownerID).
				Int64("count", superseded).
				Msg("superseded open pix codes")
		}

		pc, err = codeRepo.Create(ctx, model.CreatePairingCodeParams{
			Code:      code,
			AccountID: ownerID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.codeTTL),
		})
		return err
	})
	if err != nil {
		// Another owner won the same code value between the freshCode
		// check and this insert. The store is healthy; the caller just
		// tries again.
		if repository.IsUniqueViolation(err) {
			return nil, apperrors.GenerationFailed(err)
		}
		return nil, apperrors.StoreUnavailable(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventCodeGenerate,
		AccountID: ownerID,
		Details:   map[string]interface{}{"code": util.MaskCode(code)},
	})

	log.Info().
		Str("accountId", ownerID).
		Str("code", util.MaskCode(code)).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pix code issued")

	return pc, nil
}

// OpenCode returns the owner's current open code for re-display, or nil if
// none exists. A code found open but past its window is flipped to expired
// on the way out.
func (s *PairingService) OpenCode(ctx context.Context, ownerID string) (*model.PairingCode, error) {
	pc, err := s.codeRepo.FindOpenByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if pc == nil {
		return nil, nil
	}
	if !s.now().Before(pc.ExpiresAt) {
		if err := s.codeRepo.MarkExpired(ctx, pc.Code); err != nil {
			log.Warn().Err(err).Msg("failed to expire stale pix code")
		}
		return nil, nil
	}
	return pc, nil
}

// SubmitCode resolves a candidate code for submitterID. Wrong, expired and
// already-consumed codes all come back as OutcomeNotFound; the distinction
// must not leak to a guesser. The consume step is a conditional update, so
// of N concurrent submissions for one open code exactly one observes
// OutcomeMatched.
func (s *PairingService) SubmitCode(ctx context.Context, candidate, submitterID string) (Outcome, error) {
	if s.limiter != nil {
		allowed, resetAt := s.limiter.CheckLimit(
			ctx, submitRateLimitKeyPrefix+submitterID, s.submitLimit, submitRateLimitWindow,
		)
		if !allowed {
			return Outcome{}, apperrors.RateLimitExceeded().
				WithDetails(map[string]any{"retryAt": resetAt.Unix()})
		}
	}

	code := util.NormalizePixCode(candidate)
	if !util.IsValidPixCode(code) {
		return Outcome{Kind: OutcomeNotFound}, nil
	}

	// One active pairing per account. The owner side needs no check
	// here: a paired account cannot hold an open code (RequestCode
	// refuses paired owners, and a match expires both parties' leftover
	// open codes), and the partial unique indexes backstop both.
	active, err := s.pairingRepo.FindActiveByAccount(ctx, submitterID)
	if err != nil {
		return Outcome{}, apperrors.StoreUnavailable(err)
	}
	if active != nil {
		return Outcome{Kind: OutcomeAlreadyPaired}, nil
	}

	now := s.now()
	var outcome Outcome
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		codeRepo := s.codeRepo.WithTx(tx)
		pairingRepo := s.pairingRepo.WithTx(tx)

		pc, err := codeRepo.FindOpenByCode(ctx, code)
		if err != nil {
			return err
		}
		if pc == nil {
			outcome = Outcome{Kind: OutcomeNotFound}
			return nil
		}

		if !now.Before(pc.ExpiresAt) {
			if err := codeRepo.MarkExpired(ctx, code); err != nil {
				return err
			}
			outcome = Outcome{Kind: OutcomeNotFound}
			return nil
		}

		if pc.AccountID == submitterID {
			outcome = Outcome{Kind: OutcomeSelfPairingRejected}
			return nil
		}

		consumed, err := codeRepo.Consume(ctx, code, submitterID, now)
		if err != nil {
			return err
		}
		if consumed == nil {
			// Lost the race: another submitter consumed the code
			// between lookup and update.
			outcome = Outcome{Kind: OutcomeNotFound}
			return nil
		}

		// The submitter may still hold an open code of their own; it
		// can never be matched now, so retire it in the same commit.
		if _, err := codeRepo.ExpireOpenByOwner(ctx, submitterID); err != nil {
			return err
		}

		pairing, err := pairingRepo.Create(ctx, consumed.AccountID, submitterID, now)
		if err != nil {
			return err
		}

		outcome = Outcome{Kind: OutcomeMatched, Pairing: pairing}
		return nil
	})
	if err != nil {
		return Outcome{}, apperrors.StoreUnavailable(err)
	}

	s.logOutcome(ctx, code, submitterID, outcome)

	if outcome.Kind == OutcomeMatched {
		outcome.PartnerNotified = s.notifyMatched(ctx, outcome.Pairing)
	}

	return outcome, nil
}

// CurrentPairing returns the account's active pairing, or nil.
func (s *PairingService) CurrentPairing(ctx context.Context, accountID string) (*model.Pairing, error) {
	pairing, err := s.pairingRepo.FindActiveByAccount(ctx, accountID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return pairing, nil
}

// Unpair ends the account's active pairing and tells the partner.
func (s *PairingService) Unpair(ctx context.Context, accountID string) error {
	pairing, err := s.pairingRepo.FindActiveByAccount(ctx, accountID)
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if pairing == nil {
		return apperrors.NotPaired()
	}

	ended, err := s.pairingRepo.End(ctx, pairing.ID, s.now())
	if err != nil {
		return apperrors.StoreUnavailable(err)
	}
	if !ended {
		// Concurrent unpair by the partner already ended it.
		return nil
	}

	log.Info().
		Str("pairingId", pairing.ID).
		Str("accountId", accountID).
		Msg("pairing ended")

	if s.publisher != nil {
		data, _ := json.Marshal(map[string]string{"pairingId": pairing.ID, "endedBy": accountID})
		event := sse.Event{Type: sse.EventPairingEnded, Data: data}
		if err := s.publisher.Publish(ctx, pairing.PartnerOf(accountID), event); err != nil {
			log.Warn().Err(err).Str("pairingId", pairing.ID).Msg("failed to notify partner of unpair")
		}
	}

	return nil
}

func (s *PairingService) notifyMatched(ctx context.Context, pairing *model.Pairing) bool {
	if s.publisher == nil {
		return false
	}

	data, err := json.Marshal(pairing)
	if err != nil {
		return false
	}
	event := sse.Event{Type: sse.EventPairingEstablished, Data: data}

	notified := true
	for _, accountID := range []string{pairing.ParticipantA, pairing.ParticipantB} {
		if err := s.publisher.Publish(ctx, accountID, event); err != nil {
			log.Warn().
				Err(err).
				Str("pairingId", pairing.ID).
				Str("accountId", accountID).
				Msg("failed to publish pairing event")
			notified = false
		}
	}
	return notified
}

func (s *PairingService) logOutcome(ctx context.Context, code, submitterID string, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeMatched:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventCodeMatch,
			AccountID: submitterID,
			Details:   map[string]interface{}{"pairingId": outcome.Pairing.ID},
		})
		log.Info().
			Str("pairingId", outcome.Pairing.ID).
			Str("submittedBy", submitterID).
			Msg("pix code matched")
	case OutcomeSelfPairingRejected:
		log.Warn().
			Str("accountId", submitterID).
			Msg("self-pairing attempt rejected")
	default:
		audit.Log(ctx, audit.Event{
			Type:      audit.EventCodeReject,
			AccountID: submitterID,
			Details:   map[string]interface{}{"code": util.MaskCode(code)},
		})
	}
}

// freshCode draws codes until one is not currently open. Collisions are
// rare (one in a million per open code) but cheap to rule out; the partial
// unique index on open codes backstops the check.
func (s *PairingService) freshCode(ctx context.Context) (string, error) {
	for attempts := 0; attempts < maxGenerateAttempts; attempts++ {
		code, err := generatePixCode()
		if err != nil {
			return "", err
		}
		existing, err := s.codeRepo.FindOpenByCode(ctx, code)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unused code after %d attempts", maxGenerateAttempts)
}

func generatePixCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pixCodeSpaceSize))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", pixCodeDigits, n.Int64()), nil
}
