package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamtacles/internal/domain"
)

const DefaultTokenTTL = time.Hour

// Claims are subject=username plus the numeric userId.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"userId"`
}

// TokenService issues and verifies HS256 tokens.
type TokenService struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

func (s TokenService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s TokenService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTokenTTL
}

// Issue signs a token for u and returns it with its expiry.
func (s TokenService) Issue(u domain.User) (string, time.Time, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return "", time.Time{}, errors.New("jwt secret not configured")
	}
	issued := s.now().UTC().Truncate(time.Second)
	expires := issued.Add(s.ttl())
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		UserID: u.ID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// Verify checks signature, algorithm and expiry. Every failure is an
// AuthenticationError.
func (s TokenService) Verify(token string) (Claims, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Claims{}, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Issuer))
	}
	claims := Claims{}
	parsed, err := jwt.NewParser(opts...).ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return Claims{}, AuthenticationError{Reason: err.Error()}
	}
	if !parsed.Valid {
		return Claims{}, AuthenticationError{Reason: "invalid token"}
	}
	if claims.Subject == "" {
		return Claims{}, AuthenticationError{Reason: "subject claim required"}
	}
	return claims, nil
}
