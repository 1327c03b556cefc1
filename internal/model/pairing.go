package model

import (
	"time"
)

type PairingCode struct {
	Code       string            `db:"code" json:"code"`
	AccountID  string            `db:"account_id" json:"accountId"`
	Status     PairingCodeStatus `db:"status" json:"status"`
	ConsumedAt *time.Time        `db:"consumed_at" json:"consumedAt,omitempty"`
	ConsumedBy *string           `db:"consumed_by" json:"consumedBy,omitempty"`
	IssuedAt   time.Time         `db:"issued_at" json:"issuedAt"`
	ExpiresAt  time.Time         `db:"expires_at" json:"expiresAt"`
}

type CreatePairingCodeParams struct {
	Code      string
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pairing is the relationship formed when one account submits another
// account's open code. Participants are stored in lexicographic order so
// the unordered pair (A,B) maps to exactly one row.
type Pairing struct {
	ID            string     `db:"id" json:"id"`
	ParticipantA  string     `db:"participant_a" json:"participantA"`
	ParticipantB  string     `db:"participant_b" json:"participantB"`
	EstablishedAt time.Time  `db:"established_at" json:"establishedAt"`
	EndedAt       *time.Time `db:"ended_at" json:"endedAt,omitempty"`
}

// PartnerOf returns the other participant, or "" if accountID is not part
// of the pairing.
func (p *Pairing) PartnerOf(accountID string) string {
	switch accountID {
	case p.ParticipantA:
		return p.ParticipantB
	case p.ParticipantB:
		return p.ParticipantA
	}
	return ""
}

// OrderParticipants returns the two account IDs in storage order.
func OrderParticipants(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}
