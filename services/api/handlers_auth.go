package api

import (
	"errors"
	"net/http"

	"rxfeedback/services/auth"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	admin, token, expires, err := a.deps.Auth.Login(ctx, req.Email, req.Password)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.deps.Auth.SetCookie(w, token, expires)
	respondJSON(w, http.StatusOK, map[string]any{
		"admin":     admin,
		"token":     token,
		"expiresAt": expires,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	a.deps.Auth.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.AdminIDFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, auth.ErrUnauthorized)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	admin, err := a.deps.Auth.Get(ctx, id)
	if errors.Is(err, auth.ErrNotFound) {
		// The token outlived its admin.
		respondError(w, http.StatusUnauthorized, auth.ErrUnauthorized)
		return
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"admin": admin})
}
