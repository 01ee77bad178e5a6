package client

import "golang.org/x/crypto/bcrypt"

// AuthData carries the credential verifier for an in-progress auth
// exchange. The owning client holds it from the hello handshake, or
// from a sudo request, until the lifecycle leaves the holding state.
type AuthData struct {
	Name     string
	verifier []byte
	released bool
}

// NewAuthData wraps an account's stored bcrypt verifier.
func NewAuthData(name string, verifier []byte) *AuthData {
	return &AuthData{Name: name, verifier: verifier}
}

// Verify checks a cleartext password against the stored verifier.
// Always fails after Release.
func (a *AuthData) Verify(password string) bool {
	if a.released || len(a.verifier) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.verifier, []byte(password)) == nil
}

// Release discards the verifier material. Releasing twice is a NOP.
func (a *AuthData) Release() {
	a.verifier = nil
	a.released = true
}

// Released reports whether the verifier has been discarded.
func (a *AuthData) Released() bool { return a.released }
