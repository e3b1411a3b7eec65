// Package session turns an anonymous HTTP client into an access-control
// principal. There is no server-side session table: the token's presence
// on a job record is the whole binding.
package session

import (
	"net/http"

	"github.com/mfreitas/musicgen-back/internal/domain"
)

const CookieName = "session_id"

type Manager struct {
	// Secure controls the cookie's Secure attribute. Disabled only for
	// plain-HTTP local development.
	Secure bool
}

func NewManager(secure bool) *Manager {
	return &Manager{Secure: secure}
}

// ResolveOrMint returns the caller's session token, minting and setting a
// fresh one when the request carries none. Only job-creating requests may
// call this: minting on read paths would hand a probing client a fresh
// identity instead of letting the ownership check fail.
func (m *Manager) ResolveOrMint(w http.ResponseWriter, r *http.Request) (token string, isNew bool) {
	if token, ok := m.Resolve(r); ok {
		return token, false
	}

	token = domain.NewSessionToken()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, true
}

// Resolve reads the session token without ever minting one. Read and
// delete paths use this so "no credential" stays distinguishable from
// "wrong credential", even though both map to the same 403.
func (m *Manager) Resolve(r *http.Request) (token string, ok bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
