package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/twopix/pairing-server-go/internal/errors"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/repository"
	"github.com/twopix/pairing-server-go/internal/util"
)

type fakeAccountRepo struct {
	mu   sync.Mutex
	rows []*model.Account
}

func (f *fakeAccountRepo) WithTx(tx *sqlx.Tx) repository.AccountRepository { return f }

func (f *fakeAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.Email == email && a.DisabledAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.APITokenHash != nil && *a.APITokenHash == tokenHash && a.DisabledAt == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) Create(ctx context.Context, params model.CreateAccountParams) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokenHash := params.APITokenHash
	a := &model.Account{
		ID:              fmt.Sprintf("account-%d", len(f.rows)+1),
		Email:           params.Email,
		PasswordHash:    params.PasswordHash,
		FullName:        params.FullName,
		Username:        params.Username,
		DateOfBirth:     params.DateOfBirth,
		APITokenHash:    &tokenHash,
		RateLimitPerMin: params.RateLimitPerMin,
	}
	f.rows = append(f.rows, a)
	cp := *a
	return &cp, nil
}

func (f *fakeAccountRepo) UpdateToken(ctx context.Context, id, tokenHash string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.ID == id {
			a.APITokenHash = &tokenHash
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

func validSignUp() SignUpParams {
	return SignUpParams{
		Email:       "alice@example.com",
		Password:    "correct-horse",
		FullName:    "Alice Example",
		Username:    "alice",
		DateOfBirth: "1990-04-01",
	}
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("creates account and returns a usable token", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		result, err := svc.SignUp(ctx, validSignUp())
		require.NoError(t, err)
		require.NotNil(t, result.Account)
		assert.NotEmpty(t, result.Token)

		found, err := repo.FindByTokenHash(ctx, util.HashToken(result.Token))
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, result.Account.ID, found.ID)
	})

	t.Run("stores a bcrypt hash, never the password", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		result, err := svc.SignUp(ctx, validSignUp())
		require.NoError(t, err)

		stored, err := repo.FindByID(ctx, result.Account.ID)
		require.NoError(t, err)
		assert.NotEqual(t, "correct-horse", stored.PasswordHash)
		assert.True(t, util.CheckPasswordHash("correct-horse", stored.PasswordHash))
	})

	t.Run("normalizes the email", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		params := validSignUp()
		params.Email = "  Alice@Example.COM "
		result, err := svc.SignUp(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", result.Account.Email)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		_, err := svc.SignUp(ctx, validSignUp())
		require.NoError(t, err)

		_, err = svc.SignUp(ctx, validSignUp())
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
	})

	t.Run("validation failures", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		tests := []struct {
			name   string
			mutate func(*SignUpParams)
		}{
			{"bad email", func(p *SignUpParams) { p.Email = "not-an-email" }},
			{"short password", func(p *SignUpParams) { p.Password = "short" }},
			{"missing full name", func(p *SignUpParams) { p.FullName = " " }},
			{"bad username", func(p *SignUpParams) { p.Username = "a!" }},
			{"missing date of birth", func(p *SignUpParams) { p.DateOfBirth = "" }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				params := validSignUp()
				tt.mutate(&params)
				_, err := svc.SignUp(ctx, params)
				assert.Error(t, err)
			})
		}
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials rotate the token", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		signedUp, err := svc.SignUp(ctx, validSignUp())
		require.NoError(t, err)

		loggedIn, err := svc.Login(ctx, "alice@example.com", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, signedUp.Account.ID, loggedIn.Account.ID)
		assert.NotEqual(t, signedUp.Token, loggedIn.Token)

		// The old token no longer resolves.
		stale, err := repo.FindByTokenHash(ctx, util.HashToken(signedUp.Token))
		require.NoError(t, err)
		assert.Nil(t, stale)
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		_, err := svc.SignUp(ctx, validSignUp())
		require.NoError(t, err)

		_, err = svc.Login(ctx, "alice@example.com", "wrong")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeBadCredentials, apperrors.GetCode(err))
	})

	t.Run("unknown email gets the same error as a wrong password", func(t *testing.T) {
		repo := &fakeAccountRepo{}
		svc := NewAuthService(repo)

		_, wrongPass := svc.SignUp(ctx, validSignUp())
		require.NoError(t, wrongPass)

		_, err1 := svc.Login(ctx, "alice@example.com", "wrong")
		_, err2 := svc.Login(ctx, "nobody@example.com", "whatever")
		assert.Equal(t, apperrors.GetCode(err1), apperrors.GetCode(err2))
	})
}
