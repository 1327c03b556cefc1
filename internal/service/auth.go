package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/twopix/pairing-server-go/internal/audit"
	apperrors "github.com/twopix/pairing-server-go/internal/errors"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/repository"
	"github.com/twopix/pairing-server-go/internal/util"
)

const minPasswordLength = 8

type SignUpParams struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	Username    string `json:"username"`
	DateOfBirth string `json:"dateOfBirth"`
}

// AuthResult carries the account plus the plaintext API token issued for
// it. The token is returned exactly once; only its hash is stored.
type AuthResult struct {
	Account *model.Account
	Token   string
}

// AuthService is the identity provider behind the pairing core. Accounts
// are opaque stable IDs to everything else in the system.
type AuthService struct {
	accountRepo repository.AccountRepository
}

func NewAuthService(accountRepo repository.AccountRepository) *AuthService {
	return &AuthService{accountRepo: accountRepo}
}

func (s *AuthService) SignUp(ctx context.Context, params SignUpParams) (*AuthResult, error) {
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Username = strings.TrimSpace(params.Username)
	params.FullName = strings.TrimSpace(params.FullName)

	if err := validateSignUp(params); err != nil {
		return nil, err
	}

	existing, err := s.accountRepo.FindByEmail(ctx, params.Email)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("Account")
	}

	passwordHash, err := util.HashPassword(params.Password)
	if err != nil {
		return nil, apperrors.Internal("Failed to hash password").WithCause(err)
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate token").WithCause(err)
	}

	account, err := s.accountRepo.Create(ctx, model.CreateAccountParams{
		Email:           params.Email,
		PasswordHash:    passwordHash,
		FullName:        params.FullName,
		Username:        params.Username,
		DateOfBirth:     params.DateOfBirth,
		APITokenHash:    util.HashToken(token),
		RateLimitPerMin: 0, // 0 means server default
	})
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventAccountCreate,
		AccountID: account.ID,
	})

	log.Info().
		Str("accountId", account.ID).
		Str("username", account.Username).
		Msg("account created")

	return &AuthResult{Account: account, Token: token}, nil
}

// Login verifies credentials and rotates the account's API token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	account, err := s.accountRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	if account == nil || !util.CheckPasswordHash(password, account.PasswordHash) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventLoginFailure,
			Details: map[string]interface{}{"email": email},
		})
		return nil, apperrors.BadCredentials()
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate token").WithCause(err)
	}

	account, err = s.accountRepo.UpdateToken(ctx, account.ID, util.HashToken(token))
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if account == nil {
		return nil, apperrors.NotFound("Account")
	}

	audit.Log(ctx, audit.Event{
		Type:      audit.EventLoginSuccess,
		AccountID: account.ID,
	})

	return &AuthResult{Account: account, Token: token}, nil
}

func validateSignUp(params SignUpParams) error {
	if !util.IsValidEmail(params.Email) {
		return apperrors.InvalidInput("email", "must be a valid email address")
	}
	if len(params.Password) < minPasswordLength {
		return apperrors.InvalidInput("password", "must be at least 8 characters")
	}
	if params.FullName == "" {
		return apperrors.MissingRequired("fullName")
	}
	if !util.IsValidUsername(params.Username) {
		return apperrors.InvalidInput("username", "must be 3-32 letters, digits or underscores")
	}
	if params.DateOfBirth == "" {
		return apperrors.MissingRequired("dateOfBirth")
	}
	return nil
}
