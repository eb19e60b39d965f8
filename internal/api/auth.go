package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"vanish.share/internal/models"
)

const (
	RoleGateway = "gateway"
	RoleUser    = "user"
)

var ErrUnauthorized = errors.New("unauthorized")

// Claims are carried by every API token. Subject is the principal id for
// user tokens and a free-form name for gateway tokens.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the validated caller attached to the request context.
type Identity struct {
	Subject   string
	Role      string
	Principal models.PrincipalID
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
	parser *jwt.Parser
}

func NewAuthenticator(secret string, ttl time.Duration, clock clockwork.Clock) *Authenticator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Authenticator{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithIssuer("vanish"),
			jwt.WithTimeFunc(clock.Now),
		),
	}
}

// Issue signs a token for subject. A zero ttl uses the configured default;
// a negative ttl issues a token that never expires.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	if role != RoleGateway && role != RoleUser {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if role == RoleUser {
		if _, err := models.ParsePrincipalID(subject); err != nil {
			return "", err
		}
	}
	if ttl == 0 {
		ttl = a.ttl
	}

	now := a.clock.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "vanish",
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Validate(tokenString string) (Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Identity{}, ErrUnauthorized
	}

	var claims Claims
	parsed, err := a.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}

	id := Identity{Subject: claims.Subject, Role: claims.Role}
	switch claims.Role {
	case RoleGateway:
	case RoleUser:
		p, err := models.ParsePrincipalID(claims.Subject)
		if err != nil {
			return Identity{}, ErrUnauthorized
		}
		id.Principal = p
	default:
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

type identityKey struct{}

func identityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Require rejects requests without a valid bearer token for one of roles.
func (a *Authenticator) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			id, err := a.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
					return
				}
			}
			writeError(w, http.StatusForbidden, "token role not allowed here")
		})
	}
}
