package models

import (
	"strings"
	"time"
)

// Credential is a user's token pair for the external identity provider.
// There is at most one per user.
type Credential struct {
	User         string    `json:"user"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
}

// ScopeString joins the granted scopes with spaces, the stored form.
func (c Credential) ScopeString() string {
	return strings.Join(c.Scopes, " ")
}

// ParseScopes splits a stored scope string.
func ParseScopes(s string) []string {
	return strings.Fields(s)
}
