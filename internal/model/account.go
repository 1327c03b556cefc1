package model

import (
	"time"
)

type Account struct {
	ID              string     `db:"id" json:"id"`
	Email           string     `db:"email" json:"email"`
	PasswordHash    string     `db:"password_hash" json:"-"`
	FullName        string     `db:"full_name" json:"fullName"`
	Username        string     `db:"username" json:"username"`
	DateOfBirth     string     `db:"date_of_birth" json:"dateOfBirth"`
	APITokenHash    *string    `db:"api_token_hash" json:"-"`
	RateLimitPerMin int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt      *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

type CreateAccountParams struct {
	Email           string
	PasswordHash    string
	FullName        string
	Username        string
	DateOfBirth     string
	APITokenHash    string
	RateLimitPerMin int
}
