package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	apperrors "seller-gateway/internal/errors"
)

type UserContextKey string

const userContextKey UserContextKey = "user"

var ErrNoUser = errors.New("no user found in context")

// Authenticator verifies bearer tokens issued by the OIDC provider.
type Authenticator struct {
	verifier *oidc.IDTokenVerifier
}

// NewAuthenticator discovers the provider at issuerURL. Tokens must be issued
// for clientID.
func NewAuthenticator(ctx context.Context, issuerURL, clientID string) (*Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, err
	}
	return NewAuthenticatorWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewAuthenticatorWithVerifier skips discovery, e.g. for a static key set.
func NewAuthenticatorWithVerifier(verifier *oidc.IDTokenVerifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// Middleware rejects requests without a valid bearer token and attaches the
// seller to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawToken, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			apperrors.RespondError(w, r, apperrors.New(apperrors.ErrUnauthorized, "Missing or malformed Authorization header", nil))
			return
		}

		idToken, err := a.verifier.Verify(r.Context(), rawToken)
		if err != nil {
			apperrors.RespondError(w, r, apperrors.New(apperrors.ErrUnauthorized, "Invalid or expired token", err))
			return
		}

		var claims KeycloakClaims
		if err := idToken.Claims(&claims); err != nil {
			apperrors.RespondError(w, r, apperrors.New(apperrors.ErrUnauthorized, "Invalid token claims", err))
			return
		}
		if claims.Subject == "" {
			apperrors.RespondError(w, r, apperrors.New(apperrors.ErrUnauthorized, "Invalid token claims", errors.New("token has no subject")))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserInfo(r.Context(), claims.userInfo(rawToken))))
	})
}

// RequireRole only lets through users holding role. An empty role allows
// every authenticated user.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := GetUserInfo(r.Context())
			if err != nil {
				apperrors.RespondError(w, r, apperrors.New(apperrors.ErrUnauthorized, "Unauthorized access", err))
				return
			}
			if role != "" && !user.HasRole(role) {
				slog.WarnContext(r.Context(), "User lacks required role", "user_id", user.ID, "role", role)
				apperrors.RespondError(w, r, apperrors.New(apperrors.ErrForbidden, "Your account cannot create listings", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithUserInfo stores the user in ctx.
func WithUserInfo(ctx context.Context, user UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func GetUserInfo(ctx context.Context) (UserInfo, error) {
	if user, ok := ctx.Value(userContextKey).(UserInfo); ok {
		return user, nil
	}
	return UserInfo{}, ErrNoUser
}

func GetUserID(ctx context.Context) (string, error) {
	user, err := GetUserInfo(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// GetToken returns the caller's bearer token, or "" when unauthenticated.
func GetToken(ctx context.Context) string {
	user, err := GetUserInfo(ctx)
	if err != nil {
		return ""
	}
	return user.Token
}
