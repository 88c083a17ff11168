package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/broker"
)

// SessionTokenType is the typ claim carried by web session tokens
const SessionTokenType = "access"

// sessionCacheTTL bounds how long a verified session token is trusted without re-parsing it
const sessionCacheTTL = time.Minute

// expiresAtExtension carries the token's exp claim on the cached user, so a
// cached token stops passing once the session behind it has expired
const expiresAtExtension = "exp"

// SessionClaims are the claims the web login puts into its session token
type SessionClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// SessionAuth authenticates requests that carry an already established web session
type SessionAuth struct {
	secret        []byte
	cookieName    string
	authenticator auth.Authenticator
	now           func() time.Time
}

// NewSessionAuth sets up go-guardian with a cached bearer strategy that verifies
// session tokens signed with secret
func NewSessionAuth(secret, cookieName string) *SessionAuth {
	s := &SessionAuth{
		secret:     []byte(secret),
		cookieName: cookieName,
		now:        time.Now,
	}
	cache := store.NewFIFO(context.Background(), sessionCacheTTL)
	tokenStrategy := bearer.New(s.verifySession, cache)

	s.authenticator = auth.New()
	s.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
	return s
}

// Middleware rejects requests without a valid session and stores the session
// identity on the request context
func (s *SessionAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := s.authenticate(r)
		if !ok {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoginRedirect works like Middleware but sends browser navigations without a
// session to loginURL, with the current request as callbackUrl, so the user
// comes back here after signing in. Without a loginURL it answers 401.
func (s *SessionAuth) LoginRedirect(loginURL string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := s.authenticate(r)
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		if loginURL == "" || r.Method != http.MethodGet {
			writeUnauthorized(w)
			return
		}
		target, err := url.Parse(loginURL)
		if err != nil {
			zap.S().Errorw("invalid login url", "loginUrl", loginURL, "error", err)
			writeUnauthorized(w)
			return
		}
		q := target.Query()
		q.Set("callbackUrl", r.URL.RequestURI())
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	})
}

// authenticate returns r carrying the session identity, or false when the
// request has no live session
func (s *SessionAuth) authenticate(r *http.Request) (*http.Request, bool) {
	r = s.withCookieToken(r)
	user, err := s.authenticator.Authenticate(r)
	if err != nil {
		zap.S().Errorw("unauthorized",
			"url", r.URL)
		return r, false
	}
	if s.sessionExpired(user) {
		zap.S().Infow("session expired",
			"url", r.URL,
			"email", user.UserName())
		return r, false
	}
	zap.S().Debugf("User %s Authenticated\n", user.UserName())

	id := broker.Identity{UserID: user.ID(), Email: user.UserName()}
	if groups := user.Groups(); len(groups) > 0 {
		id.Role = groups[0]
	}
	return r.WithContext(WithSessionIdentity(r.Context(), id)), true
}

// sessionExpired checks the exp claim again, since the bearer cache keeps a
// token for sessionCacheTTL regardless of when it expires
func (s *SessionAuth) sessionExpired(user auth.Info) bool {
	values := user.Extensions()[expiresAtExtension]
	if len(values) == 0 {
		return true
	}
	exp, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return true
	}
	return !s.now().Before(time.Unix(exp, 0))
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error": "unauthorized"}`))
}

// RequireRole only lets sessions with role through. It must run after Middleware.
func RequireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := SessionIdentityFromContext(r.Context())
		if !ok || id.Role != role {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error": "forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCookieToken lets browser navigations, which cannot set headers, present
// the session token through the session cookie
func (s *SessionAuth) withCookieToken(r *http.Request) *http.Request {
	if r.Header.Get("Authorization") != "" || s.cookieName == "" {
		return r
	}
	c, err := r.Cookie(s.cookieName)
	if err != nil || c.Value == "" {
		return r
	}
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+c.Value)
	return r
}

func (s *SessionAuth) verifySession(ctx context.Context, r *http.Request, token string) (auth.Info, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}
	if claims.Type != SessionTokenType {
		return nil, errors.New("token is not a session token")
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, errors.New("session token is missing identity claims")
	}
	extensions := map[string][]string{
		expiresAtExtension: {strconv.FormatInt(claims.ExpiresAt.Unix(), 10)},
	}
	return auth.NewDefaultUser(claims.Email, claims.Subject, []string{claims.Role}, extensions), nil
}
