package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/twopix/pairing-server-go/internal/errors"
	"github.com/twopix/pairing-server-go/internal/model"
	"github.com/twopix/pairing-server-go/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
}

func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/signup", h.SignUp)
	r.Post("/login", h.Login)

	return r
}

// POST /v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var params service.SignUpParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.authService.SignUp(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, authResponse(result))
}

// POST /v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	result, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authResponse(result))
}

func authResponse(result *service.AuthResult) map[string]any {
	return map[string]any{
		"token":   result.Token,
		"account": formatAccount(result.Account),
	}
}

func formatAccount(account *model.Account) map[string]any {
	return map[string]any{
		"id":          account.ID,
		"email":       account.Email,
		"fullName":    account.FullName,
		"username":    account.Username,
		"dateOfBirth": account.DateOfBirth,
		"createdAt":   account.CreatedAt,
	}
}
