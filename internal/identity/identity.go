// Package identity validates bearer tokens issued by the external credential
// service. Issuance itself happens elsewhere; this side only resolves a
// token to (user, role).
package identity

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"

	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

// ErrInvalidToken is returned for any token that does not verify: bad
// signature, expired, malformed, or missing the subject claim.
var ErrInvalidToken = errors.New("identity: invalid token")

// Claims is the accepted token payload. Subject is the user id.
type Claims struct {
	Username string `json:"name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier authenticates HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Authenticate resolves a bearer token to the principal behind it.
func (v *Verifier) Authenticate(token string) (rehearsal.Principal, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return rehearsal.Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return rehearsal.Principal{}, ErrInvalidToken
	}

	role := claims.Role
	switch role {
	case rehearsal.RoleConductor, rehearsal.RoleMusician:
	case "":
		role = rehearsal.RoleMusician
	default:
		return rehearsal.Principal{}, ErrInvalidToken
	}

	username := claims.Username
	if username == "" {
		username = claims.Subject
	}
	return rehearsal.Principal{UserID: claims.Subject, Username: username, Role: role}, nil
}
