package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTokenTTL is how long issued session tokens stay valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

// clockSkew tolerates small differences between issuing and verifying hosts.
const clockSkew = time.Minute

var (
	errTokenExpired  = errors.New("token expired")
	errTokenNotYet   = errors.New("token not valid yet")
	errTokenIssuedAt = errors.New("token used before issued")
	errTokenIssuer   = errors.New("invalid issuer")
	errTokenSubject  = errors.New("missing sub")
	errInvalidClaims = errors.New("invalid claims")
	errSigningMethod = errors.New("invalid signing method")
	errMissingSecret = errors.New("auth secret is empty")
)

// Auth issues and validates HS256 session tokens.
type Auth struct {
	Secret []byte
	Issuer string
	TTL    time.Duration

	parser *jwt.Parser
	now    func() time.Time
}

// NewAuth creates an Auth signing with secret. A zero ttl uses
// DefaultTokenTTL; an empty issuer skips the iss claim.
func NewAuth(secret []byte, issuer string, ttl time.Duration) *Auth {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Auth{
		Secret: secret,
		Issuer: issuer,
		TTL:    ttl,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		now:    time.Now,
	}
}

// IssueToken signs a token whose subject is userID.
func (a *Auth) IssueToken(userID string) (string, error) {
	if len(a.Secret) == 0 {
		return "", errMissingSecret
	}
	now := a.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(a.TTL).Unix(),
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

// UserIDFromBearer validates a raw bearer token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	if len(a.Secret) == 0 {
		return "", errMissingSecret
	}

	parsed, err := a.parser.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return a.Secret, nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return "", errTokenExpired
	}
	if !claims.VerifyNotBefore(now.Add(clockSkew).Unix(), false) {
		return "", errTokenNotYet
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return "", errTokenIssuedAt
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errTokenIssuer
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errTokenSubject
	}
	return sub, nil
}
