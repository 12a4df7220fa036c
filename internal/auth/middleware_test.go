package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://auth.example.test/realms/bikes"
	testClientID = "seller-gateway"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	return NewAuthenticatorWithVerifier(verifier), key
}

func signToken(t *testing.T, key *rsa.PrivateKey, edit func(*KeycloakClaims)) string {
	t.Helper()
	claims := KeycloakClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   "seller-1",
			Audience:  jwt.ClaimStrings{testClientID},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:             "rider@example.test",
		PreferredUsername: "rider",
	}
	claims.RealmAccess.Roles = []string{"seller"}
	if edit != nil {
		edit(&claims)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func capture(got *UserInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := GetUserInfo(r.Context())
		if err == nil {
			*got = user
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_ValidToken(t *testing.T) {
	a, key := newTestAuthenticator(t)
	token := signToken(t, key, nil)

	var got UserInfo
	req := httptest.NewRequest(http.MethodGet, "/wizard/sessions/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware(capture(&got)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seller-1", got.ID)
	assert.Equal(t, "rider", got.Username)
	assert.Equal(t, token, got.Token)
	assert.True(t, got.HasRole("seller"))
}

func TestMiddleware_Rejects(t *testing.T) {
	a, key := newTestAuthenticator(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"expired", "Bearer " + signToken(t, key, func(c *KeycloakClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		})},
		{"wrong audience", "Bearer " + signToken(t, key, func(c *KeycloakClaims) {
			c.Audience = jwt.ClaimStrings{"someone-else"}
		})},
		{"foreign signature", "Bearer " + signToken(t, otherKey, nil)},
		{"no subject", "Bearer " + signToken(t, key, func(c *KeycloakClaims) { c.Subject = "" })},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("next handler must not run")
			})).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error_code":"UNAUTHORIZED"`)
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	serve := func(role string, user *UserInfo) int {
		req := httptest.NewRequest(http.MethodPost, "/wizard/sessions", nil)
		if user != nil {
			req = req.WithContext(WithUserInfo(req.Context(), *user))
		}
		rec := httptest.NewRecorder()
		RequireRole(role)(ok).ServeHTTP(rec, req)
		return rec.Code
	}

	seller := &UserInfo{ID: "u1", Roles: []string{"seller"}}
	buyer := &UserInfo{ID: "u2", Roles: []string{"buyer"}}

	assert.Equal(t, http.StatusOK, serve("seller", seller))
	assert.Equal(t, http.StatusForbidden, serve("seller", buyer))
	assert.Equal(t, http.StatusOK, serve("", buyer))
	assert.Equal(t, http.StatusUnauthorized, serve("", nil))
}

func TestGetToken_WithoutUser(t *testing.T) {
	assert.Empty(t, GetToken(t.Context()))
	_, err := GetUserID(t.Context())
	assert.ErrorIs(t, err, ErrNoUser)
}
