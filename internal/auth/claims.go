package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// KeycloakClaims is the part of a Keycloak access token the gateway reads.
type KeycloakClaims struct {
	jwt.RegisteredClaims

	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	PreferredUsername string `json:"preferred_username"`
	Azp               string `json:"azp"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

func (c KeycloakClaims) userInfo(rawToken string) UserInfo {
	return UserInfo{
		ID:              c.Subject,
		Username:        c.PreferredUsername,
		Email:           c.Email,
		EmailVerified:   c.EmailVerified,
		AuthorizedParty: c.Azp,
		Roles:           c.RealmAccess.Roles,
		Token:           rawToken,
	}
}

// UserInfo is the authenticated seller attached to a request context.
type UserInfo struct {
	ID              string // token subject
	Username        string
	Email           string
	EmailVerified   bool
	AuthorizedParty string
	Roles           []string

	// Token is forwarded to the marketplace API on the seller's behalf.
	Token string `json:"-"`
}

func (u UserInfo) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}
