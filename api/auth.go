package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xraph/agentchat/account"
)

// DefaultIssuer is the "iss" claim of tokens minted by Authenticator.
const DefaultIssuer = "agentchat"

var (
	errMissingToken = errors.New("api: bearer token required")
	errInvalidToken = errors.New("api: invalid bearer token")
)

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller account.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller authenticated for the request, if any.
func CallerFrom(ctx context.Context) (account.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(account.Address)
	return caller, ok
}

// Authenticator verifies and mints HS256 bearer tokens whose subject is the
// caller's address.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// AuthOption configures an Authenticator.
type AuthOption func(*Authenticator)

// WithIssuer overrides DefaultIssuer.
func WithIssuer(iss string) AuthOption {
	return func(a *Authenticator) { a.issuer = iss }
}

// WithAuthClock sets the clock used for issuing and validating tokens.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator returns an Authenticator keyed by secret.
func NewAuthenticator(secret []byte, opts ...AuthOption) *Authenticator {
	a := &Authenticator{
		secret: secret,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mint signs a token for subject valid for ttl.
func (a *Authenticator) Mint(subject account.Address, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.issuer,
		Subject:   subject.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the caller named by its subject.
func (a *Authenticator) Verify(token string) (account.Address, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return account.Zero, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	caller, err := account.Parse(claims.Subject)
	if err != nil {
		return account.Zero, fmt.Errorf("%w: subject: %w", errInvalidToken, err)
	}
	return caller, nil
}

// Middleware attaches the bearer token's caller to the request context.
// Requests without an Authorization header pass through anonymously; a
// malformed or invalid token is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeAuthError(w, errInvalidToken)
			return
		}
		caller, err := a.Verify(strings.TrimSpace(token))
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireCaller rejects anonymous requests with 401.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFrom(r.Context()); !ok {
			writeAuthError(w, errMissingToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentchat"`)
	JSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:   "unauthenticated",
		Message: err.Error(),
	})
}
